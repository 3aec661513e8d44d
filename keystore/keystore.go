// Package keystore owns the long-lived symmetric keys that protect stored
// credentials. Keys are addressed by a stable alias, created on first use and
// reused afterwards; raw key material never leaves the store. Callers get a
// Key handle that can encrypt and decrypt but cannot export.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironsession/internal/util"
)

var (
	// ErrKeyStore is the root of every key store failure: the store is locked,
	// its persisted material is corrupted, or the platform refused to create a key.
	ErrKeyStore = errors.New("key store error")
	// ErrLocked is returned while the store is locked.
	ErrLocked = fmt.Errorf("%w: store is locked", ErrKeyStore)
	// ErrGenerationDenied is returned when policy forbids creating a missing key.
	ErrGenerationDenied = fmt.Errorf("%w: key generation denied by policy", ErrKeyStore)
)

// Provider hands out the key for an alias, creating it on first use.
// Repeated calls with the same alias return a handle to the same key.
type Provider interface {
	GetOrCreateKey(ctx context.Context, alias string) (Key, error)
}

// Key is an opaque handle to an AES-256-GCM key held by a Provider.
// Encrypt returns nonce || ciphertext || tag with a fresh random nonce.
type Key interface {
	Alias() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// KDFParams configures the Argon2id derivation of a passphrase master key.
type KDFParams = util.Argon2idParams

// KDFProfile returns a named Argon2id cost profile ("interactive",
// "moderate" or "sensitive").
func KDFProfile(name string) (KDFParams, error) {
	return util.Argon2idProfile(name)
}

// Option configures a key store.
type Option func(*options)

type options struct {
	namespace      string
	logger         *slog.Logger
	denyGeneration bool
}

const defaultNamespace = "__keystore"

func buildOptions(opts []Option) options {
	o := options{namespace: defaultNamespace, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithNamespace sets the storage namespace used for wrapped keys.
// Default: "__keystore".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithLogger sets the logger used for key lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithGenerationDenied forbids creating keys that do not already exist,
// modelling a platform without secure hardware whose software fallback is
// disabled by policy.
func WithGenerationDenied() Option {
	return func(o *options) {
		o.denyGeneration = true
	}
}

// enclaveKey keeps key material in a memguard enclave, encrypted while at
// rest in memory, and only decrypts it for the duration of one operation.
type enclaveKey struct {
	alias     string
	enclave   *memguard.Enclave
	available func() error
}

func (k *enclaveKey) Alias() string {
	return k.alias
}

func (k *enclaveKey) open() (*memguard.LockedBuffer, error) {
	if err := k.available(); err != nil {
		return nil, err
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening key %q: %v", ErrKeyStore, k.alias, err)
	}
	return buf, nil
}

func (k *enclaveKey) Encrypt(plaintext []byte) ([]byte, error) {
	buf, err := k.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return util.EncryptAES(plaintext, buf.Bytes())
}

func (k *enclaveKey) Decrypt(ciphertext []byte) ([]byte, error) {
	buf, err := k.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return util.DecryptAES(ciphertext, buf.Bytes())
}

func validateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: empty key alias", ErrKeyStore)
	}
	return nil
}
