// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/ironsession/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(_ context.Context, namespace, recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(namespace, recordType, recordID, data)
	return nil
}

func (r *Repository) putLocked(namespace, recordType, recordID string, data []byte) {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string][]byte)
	}
	r.data[namespace][storage.RecordKey(recordType, recordID)] = append([]byte(nil), data...)
}

func (r *Repository) PutIfAbsent(_ context.Context, namespace, recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[namespace][storage.RecordKey(recordType, recordID)]; ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrExists)
	}
	r.putLocked(namespace, recordType, recordID, data)
	return nil
}

func (r *Repository) Get(_ context.Context, namespace, recordType, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.data[namespace][storage.RecordKey(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (r *Repository) Delete(_ context.Context, namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := storage.RecordKey(recordType, recordID)
	if _, ok := r.data[namespace][k]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r.data[namespace], k)
	return nil
}

func (r *Repository) List(_ context.Context, namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := storage.RecordKey(recordType, "")
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
