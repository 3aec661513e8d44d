package keystore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/storage"
	"github.com/jmcleod/ironsession/storage/memory"
)

func newMasterKey(t *testing.T) []byte {
	t.Helper()
	k, err := util.NewAESKey()
	require.NoError(t, err)
	return k
}

func roundTrip(t *testing.T, a, b Key) {
	t.Helper()
	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)
	plain, err := b.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plain))
}

func TestSoftwareStore(t *testing.T) {
	ctx := context.Background()

	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) {
		s := NewSoftwareStore()
		k1, err := s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)
		k2, err := s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)
		require.Equal(t, "session", k1.Alias())
		roundTrip(t, k1, k2)
	})

	t.Run("AliasesAreIndependent", func(t *testing.T) {
		s := NewSoftwareStore()
		a, err := s.GetOrCreateKey(ctx, "primary")
		require.NoError(t, err)
		b, err := s.GetOrCreateKey(ctx, "service")
		require.NoError(t, err)

		sealed, err := a.Encrypt([]byte("payload"))
		require.NoError(t, err)
		_, err = b.Decrypt(sealed)
		require.Error(t, err)
	})

	t.Run("LockedStoreFails", func(t *testing.T) {
		s := NewSoftwareStore()
		k, err := s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)

		s.Lock()
		_, err = s.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrLocked)
		require.ErrorIs(t, err, ErrKeyStore)
		_, err = k.Encrypt([]byte("x"))
		require.ErrorIs(t, err, ErrLocked)

		s.Unlock()
		_, err = k.Encrypt([]byte("x"))
		require.NoError(t, err)
	})

	t.Run("GenerationDenied", func(t *testing.T) {
		s := NewSoftwareStore(WithGenerationDenied())
		_, err := s.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrGenerationDenied)
		require.ErrorIs(t, err, ErrKeyStore)
	})

	t.Run("EmptyAlias", func(t *testing.T) {
		_, err := NewSoftwareStore().GetOrCreateKey(ctx, "")
		require.ErrorIs(t, err, ErrKeyStore)
	})

	t.Run("ConcurrentCreateYieldsOneKey", func(t *testing.T) {
		s := NewSoftwareStore()
		keys := make([]Key, 16)
		var wg sync.WaitGroup
		for i := range keys {
			wg.Go(func() {
				k, err := s.GetOrCreateKey(ctx, "session")
				if err != nil {
					t.Errorf("GetOrCreateKey: %v", err)
					return
				}
				keys[i] = k
			})
		}
		wg.Wait()
		for _, k := range keys[1:] {
			roundTrip(t, keys[0], k)
		}
	})
}

func TestRepositoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsAcrossInstances", func(t *testing.T) {
		repo := memory.NewRepository()
		master := newMasterKey(t)

		s1, err := NewRepositoryStore(repo, bytes.Clone(master))
		require.NoError(t, err)
		k1, err := s1.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)

		s2, err := NewRepositoryStore(repo, bytes.Clone(master))
		require.NoError(t, err)
		k2, err := s2.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)

		roundTrip(t, k1, k2)
	})

	t.Run("RawKeyNeverStoredInPlaintext", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)

		data, err := repo.Get(ctx, defaultNamespace, keyRecordType, "session")
		require.NoError(t, err)
		env, err := storage.UnmarshalEnvelope(data)
		require.NoError(t, err)
		require.Equal(t, "aes256gcm", env.Scheme)
		require.Len(t, env.Ciphertext, util.AESKeySize+util.GCMTagSize)
	})

	t.Run("WrongMasterKeyIsKeyStoreError", func(t *testing.T) {
		repo := memory.NewRepository()
		s1, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s1.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)
		before, err := repo.Get(ctx, defaultNamespace, keyRecordType, "session")
		require.NoError(t, err)

		s2, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s2.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrKeyStore)

		// The existing wrapped key must not be replaced.
		after, err := repo.Get(ctx, defaultNamespace, keyRecordType, "session")
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("EnvelopeBoundToAlias", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s.GetOrCreateKey(ctx, "primary")
		require.NoError(t, err)

		data, err := repo.Get(ctx, defaultNamespace, keyRecordType, "primary")
		require.NoError(t, err)
		require.NoError(t, repo.Put(ctx, defaultNamespace, keyRecordType, "service", data))

		_, err = s.GetOrCreateKey(ctx, "service")
		require.ErrorIs(t, err, ErrKeyStore)
	})

	t.Run("CorruptedEnvelope", func(t *testing.T) {
		repo := memory.NewRepository()
		require.NoError(t, repo.Put(ctx, defaultNamespace, keyRecordType, "session", []byte("garbage")))
		s, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrKeyStore)
	})

	t.Run("LockAndUnlock", func(t *testing.T) {
		master := newMasterKey(t)
		s, err := NewRepositoryStore(memory.NewRepository(), bytes.Clone(master))
		require.NoError(t, err)
		k, err := s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)
		sealed, err := k.Encrypt([]byte("payload"))
		require.NoError(t, err)

		s.Lock()
		_, err = s.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrLocked)
		_, err = k.Decrypt(sealed)
		require.ErrorIs(t, err, ErrLocked)

		require.NoError(t, s.Unlock(master))
		k2, err := s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)
		plain, err := k2.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, "payload", string(plain))
	})

	t.Run("GenerationDenied", func(t *testing.T) {
		s, err := NewRepositoryStore(memory.NewRepository(), newMasterKey(t), WithGenerationDenied())
		require.NoError(t, err)
		_, err = s.GetOrCreateKey(ctx, "session")
		require.ErrorIs(t, err, ErrGenerationDenied)
	})

	t.Run("BadMasterKeyLength", func(t *testing.T) {
		_, err := NewRepositoryStore(memory.NewRepository(), []byte("short"))
		require.ErrorIs(t, err, ErrKeyStore)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		_, err = s.GetOrCreateKey(ctx, "session")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "session"))
		_, err = repo.Get(ctx, defaultNamespace, keyRecordType, "session")
		require.True(t, errors.Is(err, storage.ErrNotFound))
		require.NoError(t, s.Delete(ctx, "session"))
	})

	t.Run("Aliases", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewRepositoryStore(repo, newMasterKey(t))
		require.NoError(t, err)
		aliases, err := s.Aliases(ctx)
		require.NoError(t, err)
		require.Empty(t, aliases)

		for _, alias := range []string{"session-key.service", "session-key.primary"} {
			_, err = s.GetOrCreateKey(ctx, alias)
			require.NoError(t, err)
		}
		s.Lock()
		aliases, err = s.Aliases(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"session-key.primary", "session-key.service"}, aliases)

		require.NoError(t, s.Delete(ctx, "session-key.service"))
		aliases, err = s.Aliases(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"session-key.primary"}, aliases)
	})

	t.Run("ConcurrentInstancesAgreeOnOneKey", func(t *testing.T) {
		repo := memory.NewRepository()
		master := newMasterKey(t)
		keys := make([]Key, 8)
		var wg sync.WaitGroup
		for i := range keys {
			wg.Go(func() {
				s, err := NewRepositoryStore(repo, bytes.Clone(master))
				if err != nil {
					t.Errorf("NewRepositoryStore: %v", err)
					return
				}
				k, err := s.GetOrCreateKey(ctx, "session")
				if err != nil {
					t.Errorf("GetOrCreateKey: %v", err)
					return
				}
				keys[i] = k
			})
		}
		wg.Wait()
		for _, k := range keys[1:] {
			roundTrip(t, keys[0], k)
		}
	})
}

func TestRepositoryStoreFromPassphrase(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	params, err := KDFProfile("interactive")
	require.NoError(t, err)

	s1, err := NewRepositoryStoreFromPassphrase(ctx, repo, "correct horse battery staple", params)
	require.NoError(t, err)
	k1, err := s1.GetOrCreateKey(ctx, "session")
	require.NoError(t, err)

	s2, err := NewRepositoryStoreFromPassphrase(ctx, repo, "correct horse battery staple", params)
	require.NoError(t, err)
	k2, err := s2.GetOrCreateKey(ctx, "session")
	require.NoError(t, err)
	roundTrip(t, k1, k2)

	s3, err := NewRepositoryStoreFromPassphrase(ctx, repo, "wrong passphrase", params)
	require.NoError(t, err)
	_, err = s3.GetOrCreateKey(ctx, "session")
	require.ErrorIs(t, err, ErrKeyStore)

	_, err = NewRepositoryStoreFromPassphrase(ctx, repo, "", params)
	require.ErrorIs(t, err, ErrKeyStore)
}
