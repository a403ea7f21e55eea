package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store keeps client state in postgres table kv_entries
// Useful when several hosts share one session (e.g. a CI runner pool)
type Store struct {
	db DBTX
}

func New(db DBTX) *Store {
	return &Store{db: db}
}

const getEntry = `-- name: GetEntry
SELECT value FROM kv_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	rows, _ := s.db.Query(ctx, getEntry, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", mapError(err)
	}
}

const setEntry = `-- name: SetEntry
INSERT INTO kv_entries (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
`

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.db.Exec(ctx, setEntry, key, value, expiresAt)
	return mapError(err)
}

const deleteEntries = `-- name: DeleteEntries
DELETE FROM kv_entries
WHERE key = ANY($1)
`

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.db.Exec(ctx, deleteEntries, keys)
	return mapError(err)
}

const purgeExpired = `-- name: PurgeExpired
DELETE FROM kv_entries
WHERE expires_at IS NOT NULL AND expires_at <= now()
`

// PurgeExpired removes expired rows, returns number of removed
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeExpired)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// InTx runs fn with store bound to a transaction
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(New(tx))

	return err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s", apperrors.ErrStorageNotMigrated, pgErr.Message)
	}

	return fmt.Errorf("db error: %w", err)
}
