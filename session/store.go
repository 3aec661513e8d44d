package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/ironsession/storage"
)

const (
	recordType = "SESSION"
	recordID   = "current"
)

// StoredSession is the persisted form of a credential: the cipher blob and
// the issue time in epoch milliseconds. It is always written as a whole.
type StoredSession struct {
	Ciphertext string `json:"ciphertext"`
	IssuedAt   int64  `json:"issuedAt"`
}

// IssuedTime returns IssuedAt as a time.Time.
func (s StoredSession) IssuedTime() time.Time {
	return time.UnixMilli(s.IssuedAt)
}

// Age is how long ago the credential was issued, relative to now.
func (s StoredSession) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedTime())
}

// Store persists at most one StoredSession. Load returns (nil, nil) when
// nothing is stored. Save replaces the record atomically.
type Store interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, s StoredSession) error
	Clear(ctx context.Context) error
}

// RepositoryStore keeps the session record in a storage.Repository under a
// fixed namespace.
type RepositoryStore struct {
	repo      storage.Repository
	namespace string
}

// NewRepositoryStore returns a Store writing to namespace in repo. Use
// Policy.Namespace so that different policies never share a record.
func NewRepositoryStore(repo storage.Repository, namespace string) *RepositoryStore {
	return &RepositoryStore{repo: repo, namespace: namespace}
}

func (s *RepositoryStore) Load(ctx context.Context) (*StoredSession, error) {
	data, err := s.repo.Get(ctx, s.namespace, recordType, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	var rec StoredSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Ciphertext == "" {
		return nil, fmt.Errorf("%w: missing ciphertext", ErrCorruptRecord)
	}
	return &rec, nil
}

func (s *RepositoryStore) Save(ctx context.Context, rec StoredSession) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.repo.Put(ctx, s.namespace, recordType, recordID, data); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *RepositoryStore) Clear(ctx context.Context) error {
	err := s.repo.Delete(ctx, s.namespace, recordType, recordID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
