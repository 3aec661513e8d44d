// Package session keeps an encrypted, time-bounded access credential on
// disk and hands out a valid one on demand. A Manager reuses the stored
// credential while it is younger than its policy allows and otherwise asks
// an Issuer for a new one, collapsing concurrent refreshes into a single
// in-flight acquisition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/ironsession/biometric"
	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/keystore"
)

// Credential is an opaque bearer string. Never log it; use Fingerprint.
type Credential string

// Issuer exchanges an identity for a fresh credential.
type Issuer interface {
	Issue(ctx context.Context, identity string) (Credential, error)
}

// IssuerFunc adapts a function to Issuer.
type IssuerFunc func(ctx context.Context, identity string) (Credential, error)

func (f IssuerFunc) Issue(ctx context.Context, identity string) (Credential, error) {
	return f(ctx, identity)
}

const refreshKey = "refresh"

// Manager supplies credentials for one validity policy.
type Manager struct {
	store    Store
	keys     keystore.Provider
	cipher   *crypto.Cipher
	issuer   Issuer
	policy   Policy
	keyAlias string
	identity IdentityResolver
	gate     *biometric.Gate
	now      func() time.Time
	logger   *slog.Logger

	flight singleflight.Group
	// writeMu serialises acquire with Invalidate so a compare-and-clear never
	// lands between another acquisition's read and its save.
	writeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the validity window. Default: PrimaryPolicy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithKeyAlias sets the key alias. Default: Policy.KeyAlias().
func WithKeyAlias(alias string) Option {
	return func(m *Manager) {
		m.keyAlias = alias
	}
}

// WithIdentity sets the identity presented to the issuer. Required.
func WithIdentity(r IdentityResolver) Option {
	return func(m *Manager) {
		m.identity = r
	}
}

// WithGate requires a proof of presence before every issuance.
func WithGate(g *biometric.Gate) Option {
	return func(m *Manager) {
		m.gate = g
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a Manager.
func NewManager(store Store, keys keystore.Provider, cipher *crypto.Cipher, issuer Issuer, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		keys:   keys,
		cipher: cipher,
		issuer: issuer,
		policy: PrimaryPolicy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	switch {
	case store == nil:
		return nil, validationErrorf("store is required")
	case keys == nil:
		return nil, validationErrorf("key provider is required")
	case cipher == nil:
		return nil, validationErrorf("cipher is required")
	case issuer == nil:
		return nil, validationErrorf("issuer is required")
	case m.identity == nil:
		return nil, validationErrorf("identity resolver is required")
	}
	if err := validatePolicy(m.policy); err != nil {
		return nil, err
	}
	if m.keyAlias == "" {
		m.keyAlias = m.policy.KeyAlias()
	}
	if err := validateID(m.keyAlias, "key alias"); err != nil {
		return nil, err
	}
	m.logger = m.logger.With(slog.String("policy", m.policy.Name))
	return m, nil
}

// Policy returns the validity window this Manager enforces.
func (m *Manager) Policy() Policy {
	return m.policy
}

// EnsureCredential returns a credential younger than the policy's MaxAge,
// acquiring a new one when the stored credential is absent, expired or
// unreadable. Concurrent callers share one acquisition. If ctx is cancelled
// while waiting, ctx.Err() is returned but the acquisition still completes
// and its result is persisted.
func (m *Manager) EnsureCredential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if cred, ok := m.readValid(ctx, false); ok {
		return cred, nil
	}

	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		return m.acquire(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Credential), nil
	}
}

// readValid returns the stored credential if it is within the window and
// decrypts. With clearCorrupt set, a record that fails to decode or decrypt
// is deleted.
func (m *Manager) readValid(ctx context.Context, clearCorrupt bool) (Credential, bool) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to load stored session", slog.String("error", err.Error()))
		if clearCorrupt && errors.Is(err, ErrCorruptRecord) {
			m.clear(ctx, "corrupt record")
		}
		return "", false
	}
	if rec == nil {
		return "", false
	}
	age := rec.Age(m.now())
	if !m.policy.Valid(age) {
		m.logger.Debug("stored session expired", slog.Duration("age", age))
		return "", false
	}

	key, err := m.keys.GetOrCreateKey(ctx, m.keyAlias)
	if err != nil {
		m.logger.Warn("session key unavailable", slog.String("alias", m.keyAlias), slog.String("error", err.Error()))
		return "", false
	}
	plain, err := m.cipher.Decrypt(rec.Ciphertext, key)
	if err != nil || plain == "" {
		m.logger.Warn("stored session could not be decrypted", slog.String("alias", m.keyAlias))
		if clearCorrupt {
			m.clear(ctx, "undecryptable record")
		}
		return "", false
	}
	return Credential(plain), true
}

// acquire runs inside the single flight. It rechecks the store first since
// an earlier flight may have finished after this caller's fast path missed.
func (m *Manager) acquire(ctx context.Context) (Credential, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if cred, ok := m.readValid(ctx, true); ok {
		return cred, nil
	}

	key, err := m.keys.GetOrCreateKey(ctx, m.keyAlias)
	if err != nil {
		return "", err
	}

	if m.gate != nil {
		att, err := m.gate.Prove(ctx)
		if err != nil {
			return "", err
		}
		m.logger.Debug("presence proven", slog.String("attestation_id", att.ID))
	}

	identity, err := m.identity.Identity(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving identity: %w", err)
	}
	if err := validateIdentity(identity, "identity"); err != nil {
		return "", err
	}

	cred, err := m.issuer.Issue(ctx, identity)
	if err != nil {
		m.logger.Warn("credential issuance failed", slog.String("error", err.Error()))
		if ie, ok := errors.AsType[*IssuanceError](err); ok {
			return "", ie
		}
		return "", &IssuanceError{Cause: err}
	}
	if cred == "" {
		return "", &IssuanceError{Cause: errEmptyCredential}
	}

	blob, err := m.cipher.Encrypt(string(cred), key)
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, StoredSession{Ciphertext: blob, IssuedAt: m.now().UnixMilli()}); err != nil {
		return "", err
	}

	m.logger.Info("credential issued", slog.String("fingerprint", Fingerprint(cred)))
	return cred, nil
}

func (m *Manager) clear(ctx context.Context, reason string) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear stored session", slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("cleared stored session", slog.String("reason", reason))
}

// Invalidate forces the next EnsureCredential into a refresh after a server
// rejected credential. If the stored credential has already been replaced
// by a different one, it is left alone. An empty rejected clears
// unconditionally. An acquisition in progress completes before the
// comparison is made.
func (m *Manager) Invalidate(ctx context.Context, rejected Credential) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if rejected != "" {
		if cred, ok := m.readValid(ctx, false); ok && cred != rejected {
			m.logger.Debug("rejected credential already replaced", slog.String("fingerprint", Fingerprint(rejected)))
			return nil
		}
	}
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.logger.Info("stored session invalidated", slog.String("fingerprint", Fingerprint(rejected)))
	return nil
}

// SignOut deletes the stored session and forgets any cached identity.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	if f, ok := m.identity.(interface{ Forget() }); ok {
		f.Forget()
	}
	m.logger.Info("signed out")
	return nil
}

// Status describes the stored session without decrypting it.
type Status struct {
	Present   bool          `json:"present"`
	Valid     bool          `json:"valid"`
	IssuedAt  time.Time     `json:"issuedAt,omitzero"`
	Age       time.Duration `json:"age"`
	Remaining time.Duration `json:"remaining"`
	Policy    Policy        `json:"policy"`
}

// Status reports whether a session is stored and how much of its window is
// left. A corrupt record is reported as present but not valid.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{Policy: m.policy}
	rec, err := m.store.Load(ctx)
	if errors.Is(err, ErrCorruptRecord) {
		st.Present = true
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}
	if rec == nil {
		return st, nil
	}
	st.Present = true
	st.IssuedAt = rec.IssuedTime()
	st.Age = rec.Age(m.now())
	st.Valid = m.policy.Valid(st.Age)
	if st.Valid {
		st.Remaining = m.policy.MaxAge - max(st.Age, 0)
	}
	return st, nil
}
