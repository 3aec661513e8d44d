package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/ironsession/internal/crypto"
	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/storage"
)

const (
	keyRecordType  = "KEY"
	saltRecordType = "SALT"
	saltRecordID   = "master"
	saltSize       = 16
	wrapVersion    = 1
)

// RepositoryStore persists keys in a storage.Repository. Each key is sealed
// in an AES-256-GCM envelope under a key-encryption key derived with HKDF
// from the master wrapping key and the alias, and the envelope AAD binds it
// to that alias. The master key is held in a memguard enclave and is never
// written to the repository.
//
// Creation is race-free across processes sharing one repository: the first
// writer wins via PutIfAbsent and everyone else loads the winner's key.
type RepositoryStore struct {
	repo   storage.Repository
	opts   options
	mu     sync.Mutex
	master *memguard.Enclave // nil while locked
	cache  map[string]*memguard.Enclave
}

var _ Provider = (*RepositoryStore)(nil)

// NewRepositoryStore returns a store whose keys are wrapped by masterKey
// (32 bytes). The masterKey slice is wiped before returning.
func NewRepositoryStore(repo storage.Repository, masterKey []byte, opts ...Option) (*RepositoryStore, error) {
	if len(masterKey) != util.AESKeySize {
		util.WipeBytes(masterKey)
		return nil, fmt.Errorf("%w: master key must be exactly %d bytes, got %d", ErrKeyStore, util.AESKeySize, len(masterKey))
	}
	return &RepositoryStore{
		repo:   repo,
		opts:   buildOptions(opts),
		master: memguard.NewEnclave(masterKey),
		cache:  make(map[string]*memguard.Enclave),
	}, nil
}

// NewRepositoryStoreFromPassphrase derives the master key from passphrase
// with Argon2id. The salt is created once and persisted alongside the keys,
// so the same passphrase unlocks the same store on every start.
func NewRepositoryStoreFromPassphrase(ctx context.Context, repo storage.Repository, passphrase string, params KDFParams, opts ...Option) (*RepositoryStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyStore)
	}
	o := buildOptions(opts)
	salt, err := loadOrCreateSalt(ctx, repo, o.namespace)
	if err != nil {
		return nil, err
	}
	master, err := util.DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving master key: %v", ErrKeyStore, err)
	}
	return NewRepositoryStore(repo, master, opts...)
}

func loadOrCreateSalt(ctx context.Context, repo storage.Repository, namespace string) ([]byte, error) {
	salt, err := repo.Get(ctx, namespace, saltRecordType, saltRecordID)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: loading salt: %v", ErrKeyStore, err)
	}

	salt, err = util.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	err = repo.PutIfAbsent(ctx, namespace, saltRecordType, saltRecordID, salt)
	if errors.Is(err, storage.ErrExists) {
		return repo.Get(ctx, namespace, saltRecordType, saltRecordID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: persisting salt: %v", ErrKeyStore, err)
	}
	return salt, nil
}

func (s *RepositoryStore) GetOrCreateKey(ctx context.Context, alias string) (Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAlias(alias); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return nil, ErrLocked
	}
	if enclave, ok := s.cache[alias]; ok {
		return s.handle(alias, enclave), nil
	}

	kek, err := s.deriveKEK(alias)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(kek)

	raw, err := s.load(ctx, alias, kek)
	if errors.Is(err, storage.ErrNotFound) {
		raw, err = s.create(ctx, alias, kek)
	}
	if err != nil {
		return nil, err
	}

	enclave := memguard.NewEnclave(raw)
	s.cache[alias] = enclave
	return s.handle(alias, enclave), nil
}

func (s *RepositoryStore) handle(alias string, enclave *memguard.Enclave) Key {
	return &enclaveKey{alias: alias, enclave: enclave, available: s.checkUnlocked}
}

func (s *RepositoryStore) deriveKEK(alias string) ([]byte, error) {
	buf, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening master key: %v", ErrKeyStore, err)
	}
	defer buf.Destroy()
	kek, err := util.HKDF(buf.Bytes(), nil, icrypto.KEKInfo(s.opts.namespace, alias, wrapVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: deriving key-encryption key: %v", ErrKeyStore, err)
	}
	return kek, nil
}

// load returns storage.ErrNotFound untouched so the caller can create the key.
func (s *RepositoryStore) load(ctx context.Context, alias string, kek []byte) ([]byte, error) {
	data, err := s.repo.Get(ctx, s.opts.namespace, keyRecordType, alias)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading key %q: %v", ErrKeyStore, alias, err)
	}

	env, err := storage.UnmarshalEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q is corrupted: %v", ErrKeyStore, alias, err)
	}
	raw, err := storage.OpenRecord(kek, env, icrypto.AADKeyWrap(s.opts.namespace, alias, wrapVersion))
	if err != nil {
		// Wrong master key or tampered envelope. Never regenerate here:
		// that would silently orphan every record sealed with the old key.
		return nil, fmt.Errorf("%w: unwrapping key %q: %v", ErrKeyStore, alias, err)
	}
	if len(raw) != util.AESKeySize {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: key %q has invalid length %d", ErrKeyStore, alias, len(raw))
	}
	return raw, nil
}

func (s *RepositoryStore) create(ctx context.Context, alias string, kek []byte) ([]byte, error) {
	if s.opts.denyGeneration {
		return nil, ErrGenerationDenied
	}

	raw, err := util.NewAESKey()
	if err != nil {
		return nil, fmt.Errorf("%w: generating key: %v", ErrKeyStore, err)
	}
	env, err := storage.SealRecord(kek, raw, icrypto.AADKeyWrap(s.opts.namespace, alias, wrapVersion))
	if err != nil {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: wrapping key %q: %v", ErrKeyStore, alias, err)
	}
	data, err := env.Marshal()
	if err != nil {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: encoding key %q: %v", ErrKeyStore, alias, err)
	}

	err = s.repo.PutIfAbsent(ctx, s.opts.namespace, keyRecordType, alias, data)
	if errors.Is(err, storage.ErrExists) {
		// Another process created the key first; use theirs.
		util.WipeBytes(raw)
		return s.load(ctx, alias, kek)
	}
	if err != nil {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: persisting key %q: %v", ErrKeyStore, alias, err)
	}

	s.opts.logger.Info("generated wrapped key", slog.String("alias", alias), slog.String("namespace", s.opts.namespace))
	return raw, nil
}

func (s *RepositoryStore) checkUnlocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return ErrLocked
	}
	return nil
}

// Lock drops the master key and every unwrapped key. Handles already issued
// fail with ErrLocked until Unlock supplies the master key again.
func (s *RepositoryStore) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = nil
	clear(s.cache)
}

// Unlock restores the master key. The masterKey slice is wiped.
func (s *RepositoryStore) Unlock(masterKey []byte) error {
	if len(masterKey) != util.AESKeySize {
		util.WipeBytes(masterKey)
		return fmt.Errorf("%w: master key must be exactly %d bytes, got %d", ErrKeyStore, util.AESKeySize, len(masterKey))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = memguard.NewEnclave(masterKey)
	return nil
}

// Aliases lists the aliases with a wrapped key in the repository, sorted.
// It does not require the store to be unlocked.
func (s *RepositoryStore) Aliases(ctx context.Context) ([]string, error) {
	aliases, err := s.repo.List(ctx, s.opts.namespace, keyRecordType)
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys: %v", ErrKeyStore, err)
	}
	slices.Sort(aliases)
	return aliases, nil
}

// Delete removes the wrapped key for alias from the repository.
func (s *RepositoryStore) Delete(ctx context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, alias)
	if err := s.repo.Delete(ctx, s.opts.namespace, keyRecordType, alias); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: deleting key %q: %v", ErrKeyStore, alias, err)
	}
	return nil
}
