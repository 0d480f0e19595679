package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/pkg/metrics"
)

const driverSQLite = "sqlite"

// DefaultBusyTimeout is how long a write waits on a locked database before
// failing with ErrTransient.
const DefaultBusyTimeout = 5 * time.Second

// schema contains the full database schema. Timestamps are unix nanoseconds
// so equal-rank rows keep a stable created order.
const schema = `
CREATE TABLE IF NOT EXISTS players (
    id TEXT PRIMARY KEY,
    nickname TEXT NOT NULL DEFAULT '',
    rank_value INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_players_order ON players(rank_value DESC, created_at ASC, id ASC);
`

const selectColumns = `id, nickname, rank_value, version, created_at, updated_at`

// SQLiteStore persists the ranked list in a SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	now         func() time.Time
	busyTimeout time.Duration
}

var _ Admin = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at the given path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	s := applySQLiteOptions(path, opts)
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return s.init(db)
}

// OpenSQLiteMemory creates an in-memory SQLite store (useful for testing).
func OpenSQLiteMemory(opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return applySQLiteOptions(":memory:", opts).init(db)
}

func applySQLiteOptions(path string, opts []SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{path: path, now: time.Now, busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) init(db *sql.DB) (*SQLiteStore, error) {
	s.db = db
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if n, err := s.Count(context.Background()); err == nil {
		metrics.UpdateStoreRecords(n)
	}
	return s, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// FetchOrdered implements Store.FetchOrdered.
func (s *SQLiteStore) FetchOrdered(ctx context.Context, limit int) ([]model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverSQLite, "fetch", time.Since(start)) }()

	if limit < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM players
		 ORDER BY rank_value DESC, created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("fetching ordered players: %w", err))
	}
	defer rows.Close()

	var out []model.RankedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// UpdateRank implements Store.UpdateRank. A non-zero ExpectedVersion turns
// the write into a compare-and-swap.
func (s *SQLiteStore) UpdateRank(ctx context.Context, u RankUpdate) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverSQLite, "update_rank", time.Since(start)) }()

	if u.ID == "" {
		return model.RankedEntity{}, ErrInvalidID
	}

	q := `UPDATE players SET rank_value = ?, version = version + 1, updated_at = ? WHERE id = ?`
	args := []any{u.RankValue, s.now().UTC().UnixNano(), u.ID}
	if u.ExpectedVersion != 0 {
		q += ` AND version = ?`
		args = append(args, u.ExpectedVersion)
	}
	q += ` RETURNING ` + selectColumns

	e, err := scanEntity(s.db.QueryRowContext(ctx, q, args...))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.RankedEntity{}, classify(fmt.Errorf("updating rank of %s: %w", u.ID, err))
	}

	// Nothing matched: either the row is gone or its version moved on.
	cur, gerr := s.Get(ctx, u.ID)
	if gerr != nil {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RankedEntity{}, gerr
	}
	metrics.RecordErrorByComponent("repository", "conflict")
	return model.RankedEntity{}, fmt.Errorf("%w: %s at version %d, expected %d",
		ErrConflict, u.ID, cur.Version, u.ExpectedVersion)
}

// Get returns one entity by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverSQLite, "get", time.Since(start)) }()

	if id == "" {
		return model.RankedEntity{}, ErrInvalidID
	}

	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM players WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RankedEntity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.RankedEntity{}, classify(fmt.Errorf("getting %s: %w", id, err))
	}
	return e, nil
}

// Insert adds a new entity. Missing id, timestamps and version are filled in.
func (s *SQLiteStore) Insert(ctx context.Context, e model.RankedEntity) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverSQLite, "insert", time.Since(start)) }()

	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Version < 1 {
		e.Version = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Nickname, e.RankValue, e.Version, e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano())
	if err != nil {
		if isConstraint(err) {
			return model.RankedEntity{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		return model.RankedEntity{}, classify(fmt.Errorf("inserting %s: %w", e.ID, err))
	}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateStoreRecords(n)
	}
	// Round-trip through storage precision.
	e.CreatedAt = time.Unix(0, e.CreatedAt.UnixNano()).UTC()
	e.UpdatedAt = time.Unix(0, e.UpdatedAt.UnixNano()).UTC()
	return e, nil
}

// Delete removes an entity.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("deleting %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateStoreRecords(n)
	}
	return nil
}

// Count returns the number of stored entities.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("counting players: %w", err))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (model.RankedEntity, error) {
	var (
		e                model.RankedEntity
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Nickname, &e.RankValue, &e.Version, &created, &updated); err != nil {
		return model.RankedEntity{}, err
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return e, nil
}

// classify marks lock contention as transient so callers may retry.
func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			metrics.RecordErrorByComponent("repository", "transient")
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
