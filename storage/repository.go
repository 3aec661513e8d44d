// Package storage provides the persistence abstraction for sealed session
// records, wrapped keys and device identities.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by PutIfAbsent when the record is already present.
	ErrExists = errors.New("record already exists")
)

// Repository stores opaque records addressed by namespace, record type and
// record ID. Every Put replaces the whole record atomically; readers never
// observe a partially written value.
type Repository interface {
	Put(ctx context.Context, namespace, recordType, recordID string, data []byte) error
	// PutIfAbsent writes the record only if none exists, returning ErrExists otherwise.
	PutIfAbsent(ctx context.Context, namespace, recordType, recordID string, data []byte) error
	Get(ctx context.Context, namespace, recordType, recordID string) ([]byte, error)
	Delete(ctx context.Context, namespace, recordType, recordID string) error
	List(ctx context.Context, namespace, recordType string) ([]string, error)
}

// RecordKey joins a record type and ID the way every backend keys records.
func RecordKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}
