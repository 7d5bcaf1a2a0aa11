package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    app        TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    id         TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app, user_id, id)
);
CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    app        TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    tool       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (app, user_id, session_id, seq);
`

// SQLiteService persists sessions in a SQLite file.
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService opens (or creates) the database at path. Use ":memory:"
// for a throwaway database; the single connection keeps it alive.
func NewSQLiteService(ctx context.Context, path string) (*SQLiteService, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Get(ctx context.Context, key Key) (*Session, error) {
	out := Session{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE app = ? AND user_id = ? AND id = ?`,
		key.App, key.User, key.ID,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &out, nil
}

func (s *SQLiteService) Create(ctx context.Context, key Key) (*Session, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (app, user_id, id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		key.App, key.User, key.ID, now, now)
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		return nil, ErrExists
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteService) AppendEvent(ctx context.Context, key Key, ev Event) error {
	ev = stamp(ev)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE app = ? AND user_id = ? AND id = ?`,
		ev.CreatedAt, key.App, key.User, key.ID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (app, user_id, session_id, role, content, tool, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.App, key.User, key.ID, ev.Role, ev.Content, ev.Tool, ev.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteService) Events(ctx context.Context, key Key, limit int) ([]Event, error) {
	sess, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT role, content, tool, created_at FROM (
            SELECT seq, role, content, tool, created_at FROM events
            WHERE app = ? AND user_id = ? AND session_id = ?
            ORDER BY seq DESC LIMIT ?
        ) ORDER BY seq ASC`, key.App, key.User, key.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Role, &ev.Content, &ev.Tool, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteService) Delete(ctx context.Context, key Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE app = ? AND user_id = ? AND session_id = ?`, key.App, key.User, key.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE app = ? AND user_id = ? AND id = ?`, key.App, key.User, key.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteService) Close() error { return s.db.Close() }

var _ Service = (*SQLiteService)(nil)
