// Package store provides persistence for contexts and their capability sets.
//
// A Context is a named namespace grouping tools, resources, prompts, and
// roots. The gateway reads contexts as immutable snapshots via GetContext;
// nothing in the request path mutates a capability definition.
//
// The canonical implementation is SQLiteStore (modernc.org/sqlite, WAL mode,
// automatic schema creation). Seed files let the CLI populate the store from
// declarative YAML.
package store
