package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  agent TEXT NOT NULL,
  context_id TEXT NOT NULL,
  task_id TEXT NOT NULL,
  user_text TEXT NOT NULL,
  agent_text TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_agent_context ON turns(agent, context_id, id);
`

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the transcript database at
// path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	for _, raw := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate transcript db: %w (statement=%q)", err, stmt)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, turn Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (agent, context_id, task_id, user_text, agent_text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.Agent, turn.ContextID, turn.TaskID, turn.UserText, turn.AgentText,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, agent, contextID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent, context_id, task_id, user_text, agent_text, created_at FROM turns WHERE agent = ? AND context_id = ? ORDER BY id`,
		agent, contextID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Agent, &t.ContextID, &t.TaskID, &t.UserText, &t.AgentText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
