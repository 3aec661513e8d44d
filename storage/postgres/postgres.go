// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The session_records table uses a composite primary key (namespace,
// record_type, record_id) that mirrors the key space used by the BBolt and
// in-memory backends. Each write is a single statement, so a record is
// always replaced as a whole.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironsession/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_records (namespace, record_type, record_id, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, record_type, record_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		namespace, recordType, recordID, data)
	return err
}

func (s *Store) PutIfAbsent(ctx context.Context, namespace, recordType, recordID string, data []byte) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO session_records (namespace, record_type, record_id, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, record_type, record_id) DO NOTHING`,
		namespace, recordType, recordID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrExists)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM session_records
		 WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM session_records WHERE namespace = $1 AND record_type = $2`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
