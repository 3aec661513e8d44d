package keystore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironsession/internal/util"
)

// SoftwareStore holds keys in memory only. Keys do not survive the process,
// so stored credentials sealed with them become unreadable after a restart
// and are re-issued. Suitable for tests and ephemeral workers.
type SoftwareStore struct {
	mu     sync.Mutex
	keys   map[string]*memguard.Enclave
	locked bool
	opts   options
}

var _ Provider = (*SoftwareStore)(nil)

// NewSoftwareStore returns an empty, unlocked SoftwareStore.
func NewSoftwareStore(opts ...Option) *SoftwareStore {
	return &SoftwareStore{
		keys: make(map[string]*memguard.Enclave),
		opts: buildOptions(opts),
	}
}

func (s *SoftwareStore) GetOrCreateKey(ctx context.Context, alias string) (Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAlias(alias); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, ErrLocked
	}

	enclave, ok := s.keys[alias]
	if !ok {
		if s.opts.denyGeneration {
			return nil, ErrGenerationDenied
		}
		raw, err := util.NewAESKey()
		if err != nil {
			return nil, err
		}
		// NewEnclave wipes raw.
		enclave = memguard.NewEnclave(raw)
		s.keys[alias] = enclave
		s.opts.logger.Info("generated software key", slog.String("alias", alias))
	}
	return &enclaveKey{alias: alias, enclave: enclave, available: s.checkUnlocked}, nil
}

func (s *SoftwareStore) checkUnlocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrLocked
	}
	return nil
}

// Lock makes every operation, including on handles already issued, fail
// with ErrLocked until Unlock is called.
func (s *SoftwareStore) Lock() {
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

func (s *SoftwareStore) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// Delete forgets the key for alias. A later GetOrCreateKey creates a new one.
func (s *SoftwareStore) Delete(alias string) {
	s.mu.Lock()
	delete(s.keys, alias)
	s.mu.Unlock()
}
