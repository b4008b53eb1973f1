// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists contexts and their capability definitions with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A pooled :memory: database is a different database per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contexts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tools (
			context_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			input_schema_json TEXT NOT NULL DEFAULT '{}',
			handler_type TEXT NOT NULL,
			handler_config_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (context_id, name),
			FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS resources (
			context_id TEXT NOT NULL,
			uri TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			handler_type TEXT NOT NULL DEFAULT '',
			handler_config_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (context_id, uri),
			FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS prompts (
			context_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			arguments_json TEXT NOT NULL DEFAULT '[]',
			template TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (context_id, name),
			FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS roots (
			context_id TEXT NOT NULL,
			uri TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (context_id, uri),
			FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateContext inserts a new context row.
func (s *SQLiteStore) CreateContext(ctx context.Context, c *Context) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Name == "" {
		c.Name = c.ID
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO contexts (id, name, created_at) VALUES (?, ?, ?)",
		c.ID, c.Name, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateContext
		}
		return fmt.Errorf("inserting context: %w", err)
	}

	for i := range c.Tools {
		if err := s.PutTool(ctx, c.ID, &c.Tools[i]); err != nil {
			return err
		}
	}
	for i := range c.Resources {
		if err := s.PutResource(ctx, c.ID, &c.Resources[i]); err != nil {
			return err
		}
	}
	for i := range c.Prompts {
		if err := s.PutPrompt(ctx, c.ID, &c.Prompts[i]); err != nil {
			return err
		}
	}
	for i := range c.Roots {
		if err := s.PutRoot(ctx, c.ID, &c.Roots[i]); err != nil {
			return err
		}
	}

	return nil
}

// GetContext returns the context with the given id, fully populated with its
// tools, resources, prompts, and roots.
func (s *SQLiteStore) GetContext(ctx context.Context, id string) (*Context, error) {
	c := &Context{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM contexts WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying context: %w", err)
	}

	if c.Tools, err = s.loadTools(ctx, id); err != nil {
		return nil, err
	}
	if c.Resources, err = s.loadResources(ctx, id); err != nil {
		return nil, err
	}
	if c.Prompts, err = s.loadPrompts(ctx, id); err != nil {
		return nil, err
	}
	if c.Roots, err = s.loadRoots(ctx, id); err != nil {
		return nil, err
	}

	return c, nil
}

// ListContexts returns all contexts without their capability lists.
func (s *SQLiteStore) ListContexts(ctx context.Context) ([]*Context, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM contexts ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var contexts []*Context
	for rows.Next() {
		c := &Context{}
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning context: %w", err)
		}
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// DeleteContext removes a context and all its capabilities.
func (s *SQLiteStore) DeleteContext(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contexts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutTool inserts or replaces a tool definition within a context.
func (s *SQLiteStore) PutTool(ctx context.Context, contextID string, tool *ToolDef) error {
	if !tool.HandlerType.Valid() {
		return fmt.Errorf("tool %q: unknown handler type %q", tool.Name, tool.HandlerType)
	}

	schemaJSON := string(tool.InputSchema)
	if schemaJSON == "" {
		schemaJSON = "{}"
	}
	configJSON, err := json.Marshal(tool.HandlerConfig)
	if err != nil {
		return fmt.Errorf("marshaling handler config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tools
			(context_id, name, description, input_schema_json, handler_type, handler_config_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		contextID, tool.Name, tool.Description, schemaJSON, string(tool.HandlerType), string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting tool %q: %w", tool.Name, err)
	}
	return nil
}

// PutResource inserts or replaces a resource definition within a context.
func (s *SQLiteStore) PutResource(ctx context.Context, contextID string, res *ResourceDef) error {
	if res.HandlerType != "" && !res.HandlerType.Valid() {
		return fmt.Errorf("resource %q: unknown handler type %q", res.URI, res.HandlerType)
	}

	configJSON, err := json.Marshal(res.HandlerConfig)
	if err != nil {
		return fmt.Errorf("marshaling handler config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO resources
			(context_id, uri, name, description, mime_type, content, handler_type, handler_config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		contextID, res.URI, res.Name, res.Description, res.MIMEType, res.Content,
		string(res.HandlerType), string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting resource %q: %w", res.URI, err)
	}
	return nil
}

// PutPrompt inserts or replaces a prompt definition within a context.
func (s *SQLiteStore) PutPrompt(ctx context.Context, contextID string, prompt *PromptDef) error {
	argsJSON, err := json.Marshal(prompt.Arguments)
	if err != nil {
		return fmt.Errorf("marshaling prompt arguments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO prompts
			(context_id, name, description, arguments_json, template)
		VALUES (?, ?, ?, ?, ?)`,
		contextID, prompt.Name, prompt.Description, string(argsJSON), prompt.Template,
	)
	if err != nil {
		return fmt.Errorf("upserting prompt %q: %w", prompt.Name, err)
	}
	return nil
}

// PutRoot inserts or replaces a root entry within a context.
func (s *SQLiteStore) PutRoot(ctx context.Context, contextID string, root *Root) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO roots (context_id, uri, name) VALUES (?, ?, ?)`,
		contextID, root.URI, root.Name,
	)
	if err != nil {
		return fmt.Errorf("upserting root %q: %w", root.URI, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadTools(ctx context.Context, contextID string) ([]ToolDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, input_schema_json, handler_type, handler_config_json
		FROM tools WHERE context_id = ? ORDER BY name`, contextID)
	if err != nil {
		return nil, fmt.Errorf("querying tools: %w", err)
	}
	defer rows.Close()

	var tools []ToolDef
	for rows.Next() {
		var t ToolDef
		var schemaJSON, handlerType, configJSON string
		if err := rows.Scan(&t.Name, &t.Description, &schemaJSON, &handlerType, &configJSON); err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		t.InputSchema = json.RawMessage(schemaJSON)
		t.HandlerType = HandlerType(handlerType)
		if err := json.Unmarshal([]byte(configJSON), &t.HandlerConfig); err != nil {
			return nil, fmt.Errorf("parsing handler config for tool %q: %w", t.Name, err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *SQLiteStore) loadResources(ctx context.Context, contextID string) ([]ResourceDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, name, description, mime_type, content, handler_type, handler_config_json
		FROM resources WHERE context_id = ? ORDER BY uri`, contextID)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var resources []ResourceDef
	for rows.Next() {
		var r ResourceDef
		var handlerType, configJSON string
		if err := rows.Scan(&r.URI, &r.Name, &r.Description, &r.MIMEType, &r.Content, &handlerType, &configJSON); err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		r.HandlerType = HandlerType(handlerType)
		if err := json.Unmarshal([]byte(configJSON), &r.HandlerConfig); err != nil {
			return nil, fmt.Errorf("parsing handler config for resource %q: %w", r.URI, err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

func (s *SQLiteStore) loadPrompts(ctx context.Context, contextID string) ([]PromptDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, arguments_json, template
		FROM prompts WHERE context_id = ? ORDER BY name`, contextID)
	if err != nil {
		return nil, fmt.Errorf("querying prompts: %w", err)
	}
	defer rows.Close()

	var prompts []PromptDef
	for rows.Next() {
		var p PromptDef
		var argsJSON string
		if err := rows.Scan(&p.Name, &p.Description, &argsJSON, &p.Template); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &p.Arguments); err != nil {
			return nil, fmt.Errorf("parsing arguments for prompt %q: %w", p.Name, err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (s *SQLiteStore) loadRoots(ctx context.Context, contextID string) ([]Root, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uri, name FROM roots WHERE context_id = ? ORDER BY uri", contextID)
	if err != nil {
		return nil, fmt.Errorf("querying roots: %w", err)
	}
	defer rows.Close()

	var roots []Root
	for rows.Next() {
		var r Root
		if err := rows.Scan(&r.URI, &r.Name); err != nil {
			return nil, fmt.Errorf("scanning root: %w", err)
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
