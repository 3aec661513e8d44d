package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/internal/util"
)

func TestSealOpenRecord(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	aad := []byte("alias:session")

	env, err := SealRecord(key, []byte("key material"), aad)
	require.NoError(t, err)
	require.Len(t, env.Nonce, util.GCMNonceSize)

	data, err := env.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalEnvelope(data)
	require.NoError(t, err)

	plain, err := OpenRecord(key, decoded, aad)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plain, []byte("key material")))

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, decoded, []byte("alias:other"))
		require.Error(t, err)
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		bad := *decoded
		bad.Scheme = "raw"
		_, err := OpenRecord(key, &bad, aad)
		require.Error(t, err)
	})

	t.Run("GarbageEnvelope", func(t *testing.T) {
		_, err := UnmarshalEnvelope([]byte("{not json"))
		require.Error(t, err)
	})
}
