// ABOUTME: Package schema compiles tool input schemas into argument validators
// ABOUTME: Violations are collected exhaustively so callers see every problem at once

// Package schema validates tool call arguments against the JSON Schema
// declared in a tool definition.
//
// A Validator is compiled once from the raw schema document and then reused
// for every call. Validation is deliberately shallow: required properties,
// primitive types, and enum membership. Nested object schemas are accepted
// without recursion because tool handlers receive the raw arguments anyway
// and deeper structure is their contract to enforce.
package schema
