// Package valkey provides a Valkey-backed storage repository, suited to
// deployments where several processes share one session record.
package valkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/jmcleod/ironsession/storage"
)

// Store implements storage.Repository on top of a Valkey client. Records
// live under "<prefix>:<namespace>:<type>:<id>" and are written with a
// single SET, which Valkey applies atomically.
type Store struct {
	client valkey.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using client, with keys under prefix.
func NewRepository(client valkey.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// NewRepositoryFromAddr dials the Valkey server(s) at addrs.
func NewRepositoryFromAddr(addrs []string, prefix string) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: addrs})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey: %w", err)
	}
	return NewRepository(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) key(namespace, recordType, recordID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, namespace, storage.RecordKey(recordType, recordID))
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, data []byte) error {
	cmd := s.client.B().Set().Key(s.key(namespace, recordType, recordID)).Value(valkey.BinaryString(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}
	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, namespace, recordType, recordID string, data []byte) error {
	cmd := s.client.B().Set().Key(s.key(namespace, recordType, recordID)).Value(valkey.BinaryString(data)).Nx().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		// SET NX replies nil when the key already exists.
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrExists)
		}
		return fmt.Errorf("executing set nx command: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(namespace, recordType, recordID)).Build()).AsBytes()
	if err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("executing get command: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	n, err := s.client.Do(ctx, s.client.B().Del().Key(s.key(namespace, recordType, recordID)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	prefix := s.key(namespace, recordType, "")
	var ids []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(prefix + "*").Count(100).Build()
		scan, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("executing scan command: %w", err)
		}
		for _, k := range scan.Elements {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
		cursor = scan.Cursor
		if cursor == 0 {
			return ids, nil
		}
	}
}
