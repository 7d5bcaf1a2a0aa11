package store

import (
	"context"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultMaxRows caps the rows returned by Query.
const DefaultMaxRows = 500

const meetingColumns = `id, title, to_char(meeting_date, 'YYYY-MM-DD'),
       coalesce(to_char(meeting_time, 'HH24:MI:SS'), ''), coalesce(reasoning, ''), created_at`

// Store is the Postgres-backed meetings store.
type Store struct {
	DB      *pgxpool.Pool
	MaxRows int
	logger  zerolog.Logger
}

// New connects to Postgres. The pool connects lazily, so an unreachable
// server surfaces on first use or on Ping.
func New(ctx context.Context, connStr string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &Store{DB: db, MaxRows: DefaultMaxRows, logger: logger}, nil
}

func (s *Store) Close() {
	if s == nil || s.DB == nil {
		return
	}
	s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotConnected
	}
	return s.DB.Ping(ctx)
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotConnected
	}
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.DB)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		s.logger.Info().Str("migration", r.Source.Path).Dur("took", r.Duration).Msg("migration applied")
	}
	return nil
}

// InsertMeeting stores m and returns it with its id and creation time.
func (s *Store) InsertMeeting(ctx context.Context, m Meeting) (Meeting, error) {
	if s == nil || s.DB == nil {
		return Meeting{}, ErrNotConnected
	}
	return insertMeeting(ctx, s.DB, m)
}

func insertMeeting(ctx context.Context, q querier, m Meeting) (Meeting, error) {
	row := q.QueryRow(ctx, `
        INSERT INTO meetings (title, meeting_date, meeting_time, reasoning)
        VALUES ($1, $2::date, nullif($3, '')::time, nullif($4, ''))
        RETURNING `+meetingColumns,
		m.Title, m.Date, m.Time, m.Reasoning)
	out, err := scanMeeting(row)
	if err != nil {
		return Meeting{}, fmt.Errorf("insert meeting: %w", err)
	}
	return out, nil
}

// Conflicts returns the meetings on date, or only those in the exact slot
// when clock is set.
func (s *Store) Conflicts(ctx context.Context, date, clock string) ([]Meeting, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotConnected
	}
	return conflicts(ctx, s.DB, date, clock)
}

// InsertIfFree inserts m unless Conflicts(m.Date, m.Time) is non-empty, in
// which case the conflicting meetings are returned and nothing is written.
// A transaction-scoped advisory lock on the day serialises concurrent
// callers for the same date.
func (s *Store) InsertIfFree(ctx context.Context, m Meeting) (Meeting, []Meeting, error) {
	if s == nil || s.DB == nil {
		return Meeting{}, nil, ErrNotConnected
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Meeting{}, nil, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('meetings:' || $1::text))`, m.Date); err != nil {
		return Meeting{}, nil, fmt.Errorf("lock meeting day: %w", err)
	}
	existing, err := conflicts(ctx, tx, m.Date, m.Time)
	if err != nil {
		return Meeting{}, nil, err
	}
	if len(existing) > 0 {
		return Meeting{}, existing, nil
	}
	out, err := insertMeeting(ctx, tx, m)
	if err != nil {
		return Meeting{}, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Meeting{}, nil, fmt.Errorf("commit meeting: %w", err)
	}
	return out, nil, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func conflicts(ctx context.Context, q querier, date, clock string) ([]Meeting, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if clock != "" {
		rows, err = q.Query(ctx, `SELECT `+meetingColumns+`
        FROM meetings
        WHERE meeting_date = $1::date AND meeting_time = $2::time
        ORDER BY id`, date, clock)
	} else {
		rows, err = q.Query(ctx, `SELECT `+meetingColumns+`
        FROM meetings
        WHERE meeting_date = $1::date
        ORDER BY meeting_time NULLS FIRST, id`, date)
	}
	if err != nil {
		return nil, fmt.Errorf("check conflicts: %w", err)
	}
	return collectMeetings(rows)
}

// ListRange returns the meetings with from <= date < to.
func (s *Store) ListRange(ctx context.Context, from, to string) ([]Meeting, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotConnected
	}
	rows, err := s.DB.Query(ctx, `SELECT `+meetingColumns+`
        FROM meetings
        WHERE meeting_date >= $1::date AND meeting_date < $2::date
        ORDER BY meeting_date, meeting_time NULLS FIRST, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return collectMeetings(rows)
}

// Query runs a read-only statement inside a READ ONLY transaction.
func (s *Store) Query(ctx context.Context, q string) (Result, error) {
	if s == nil || s.DB == nil {
		return Result{}, ErrNotConnected
	}
	q, err := CheckReadOnly(q)
	if err != nil {
		return Result{}, err
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return Result{}, sqlError(err)
	}
	defer rows.Close()

	res := Result{Rows: []map[string]any{}}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	limit := s.MaxRows
	if limit <= 0 {
		limit = DefaultMaxRows
	}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return Result{}, sqlError(err)
		}
		row := make(map[string]any, len(vals))
		for i, v := range vals {
			row[res.Columns[i]] = jsonValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, sqlError(err)
	}
	return res, nil
}

// sqlError maps Postgres' read-only violation onto ErrReadOnly.
func sqlError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "25006" {
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	}
	return fmt.Errorf("SQL execution error: %w", err)
}

func scanMeeting(row pgx.Row) (Meeting, error) {
	var m Meeting
	err := row.Scan(&m.ID, &m.Title, &m.Date, &m.Time, &m.Reasoning, &m.CreatedAt)
	return m, err
}

func collectMeetings(rows pgx.Rows) ([]Meeting, error) {
	defer rows.Close()
	out := []Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// jsonValue converts pgx driver values into JSON-friendly ones.
func jsonValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		d := time.Duration(t.Microseconds) * time.Microsecond
		return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Interval:
		if !t.Valid {
			return nil
		}
		return (time.Duration(t.Microseconds)*time.Microsecond + time.Duration(t.Days)*24*time.Hour).String()
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		return hex.EncodeToString(t)
	default:
		return v
	}
}
