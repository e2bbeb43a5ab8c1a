package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/marcboeker/go-duckdb" // Driver
	"github.com/rs/zerolog/log"
)

const duckSchemaSQL = `
CREATE TABLE IF NOT EXISTS relay_by_handle (
    handle      VARCHAR PRIMARY KEY,
    ref         BIGINT NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);
CREATE TABLE IF NOT EXISTS relay_by_hash (
    hash        VARCHAR NOT NULL,
    size        BIGINT NOT NULL,
    ref         BIGINT NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    PRIMARY KEY (hash, size)
);
`

// DuckStore persists records in a local DuckDB file.
type DuckStore struct {
	db *sql.DB
}

var _ Store = (*DuckStore)(nil)

// OpenDuckStore opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for a throwaway store.
func OpenDuckStore(path string) (*DuckStore, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	// An in-memory database is per connection, and a single writer keeps
	// the file lock simple.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb %q: %w", path, err)
	}
	if _, err := db.Exec(duckSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("DuckDB dedup store ready")
	return &DuckStore{db: db}, nil
}

func (s *DuckStore) LookupByHandle(ctx context.Context, handle string) (int, bool, error) {
	return s.lookup(ctx, `SELECT ref FROM relay_by_handle WHERE handle = ?`, handle)
}

func (s *DuckStore) LookupByHash(ctx context.Context, hash string, size int64) (int, bool, error) {
	return s.lookup(ctx, `SELECT ref FROM relay_by_hash WHERE hash = ? AND size = ?`, hash, size)
}

func (s *DuckStore) lookup(ctx context.Context, query string, args ...any) (int, bool, error) {
	var ref int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query dedup record: %w", err)
	}
	return int(ref), true, nil
}

func (s *DuckStore) Record(ctx context.Context, rec Record) error {
	handleErr := s.insertHandle(ctx, rec)

	var hashErr error
	if rec.HasFingerprint() {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO relay_by_hash (hash, size, ref) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			rec.Hash, rec.Size, rec.Ref)
		if err != nil {
			hashErr = fmt.Errorf("insert fingerprint %s: %w", rec.Hash, err)
		}
	}
	return joinRecordErrors(handleErr, hashErr)
}

func (s *DuckStore) insertHandle(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_by_handle (handle, ref) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		rec.Handle, rec.Ref)
	if err != nil {
		return fmt.Errorf("insert handle %s: %w", rec.Handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert handle %s: %w", rec.Handle, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *DuckStore) Close() error {
	return s.db.Close()
}
