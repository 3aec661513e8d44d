package biometric_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/biometric"
	"github.com/jmcleod/ironsession/biometric/biometrictest"
)

type callbacks struct {
	successes []biometric.Attestation
	failures  []string
}

func (c *callbacks) onSuccess(a biometric.Attestation) { c.successes = append(c.successes, a) }
func (c *callbacks) onFailure(r string)                { c.failures = append(c.failures, r) }

func TestCheckCapabilityIsNotCached(t *testing.T) {
	ctx := context.Background()
	sensor := biometrictest.NewSensor(biometric.NotEnrolled)
	gate := biometric.NewGate(sensor)

	require.Equal(t, biometric.NotEnrolled, gate.CheckCapability(ctx))
	sensor.SetCapability(biometric.Available)
	require.Equal(t, biometric.Available, gate.CheckCapability(ctx))
	require.Zero(t, sensor.Challenges())
}

func TestRequestProofPreconditions(t *testing.T) {
	ctx := context.Background()
	for _, c := range []biometric.Capability{
		biometric.NoHardware,
		biometric.HardwareUnavailable,
		biometric.NotEnrolled,
		biometric.UnknownError,
	} {
		t.Run(c.String(), func(t *testing.T) {
			sensor := biometrictest.NewSensor(c, biometrictest.Accept())
			gate := biometric.NewGate(sensor)
			var cb callbacks

			err := gate.RequestProof(ctx, cb.onSuccess, cb.onFailure)
			require.ErrorIs(t, err, biometric.ErrPrecondition)
			assert.Contains(t, err.Error(), c.String())
			assert.Zero(t, sensor.Challenges(), "no challenge may be presented")
			assert.Empty(t, cb.successes)
			assert.Empty(t, cb.failures)
		})
	}
}

func TestZeroCapabilityIsRefused(t *testing.T) {
	var zero biometric.Capability
	require.Equal(t, biometric.UnknownError, zero)

	sensor := biometrictest.NewSensor(zero, biometrictest.Accept())
	gate := biometric.NewGate(sensor)
	var cb callbacks
	err := gate.RequestProof(context.Background(), cb.onSuccess, cb.onFailure)
	require.ErrorIs(t, err, biometric.ErrPrecondition)
	assert.Zero(t, sensor.Challenges())
}

func TestRequestProofOutcomes(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Accepted", func(t *testing.T) {
		sensor := biometrictest.NewSensor(biometric.Available, biometrictest.Accept())
		gate := biometric.NewGate(sensor, biometric.WithClock(func() time.Time { return fixed }))
		var cb callbacks

		require.NoError(t, gate.RequestProof(ctx, cb.onSuccess, cb.onFailure))
		require.Len(t, cb.successes, 1)
		assert.Empty(t, cb.failures)
		assert.NotEmpty(t, cb.successes[0].ID)
		assert.Equal(t, fixed, cb.successes[0].At)
		assert.Equal(t, 1, sensor.Challenges())
	})

	t.Run("AcceptedKeepsSensorAttestation", func(t *testing.T) {
		att := biometric.Attestation{ID: "att-1", At: fixed}
		sensor := biometrictest.NewSensor(biometric.Available, biometric.Outcome{Result: biometric.Accepted, Attestation: att})
		gate := biometric.NewGate(sensor)
		var cb callbacks

		require.NoError(t, gate.RequestProof(ctx, cb.onSuccess, cb.onFailure))
		require.Equal(t, []biometric.Attestation{att}, cb.successes)
	})

	t.Run("Rejected", func(t *testing.T) {
		sensor := biometrictest.NewSensor(biometric.Available, biometrictest.Reject("not recognised"))
		gate := biometric.NewGate(sensor)
		var cb callbacks

		require.NoError(t, gate.RequestProof(ctx, cb.onSuccess, cb.onFailure))
		assert.Empty(t, cb.successes)
		assert.Equal(t, []string{"not recognised"}, cb.failures)
	})

	t.Run("AbandonedOnCancel", func(t *testing.T) {
		sensor := biometrictest.NewSensor(biometric.Available, biometrictest.Accept())
		sensor.BlockUntilCancelled()
		gate := biometric.NewGate(sensor)
		var cb callbacks

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		require.NoError(t, gate.RequestProof(cctx, cb.onSuccess, cb.onFailure))
		assert.Empty(t, cb.successes)
		require.Len(t, cb.failures, 1)
		assert.Contains(t, cb.failures[0], context.DeadlineExceeded.Error())
	})

	t.Run("NoAutomaticRetry", func(t *testing.T) {
		sensor := biometrictest.NewSensor(biometric.Available, biometrictest.Reject("no"), biometrictest.Accept())
		gate := biometric.NewGate(sensor)
		var cb callbacks

		require.NoError(t, gate.RequestProof(ctx, cb.onSuccess, cb.onFailure))
		assert.Equal(t, 1, sensor.Challenges())
		assert.Len(t, cb.failures, 1)
		assert.Empty(t, cb.successes)
	})
}

func TestProve(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gate := biometric.NewGate(biometrictest.NewSensor(biometric.Available, biometrictest.Accept()))
		att, err := gate.Prove(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, att.ID)
	})

	t.Run("Failure", func(t *testing.T) {
		gate := biometric.NewGate(biometrictest.NewSensor(biometric.Available, biometrictest.Reject("too many attempts")))
		_, err := gate.Prove(ctx)
		require.ErrorIs(t, err, biometric.ErrProofFailed)
		require.Contains(t, err.Error(), "too many attempts")
	})

	t.Run("Precondition", func(t *testing.T) {
		gate := biometric.NewGate(biometrictest.NewSensor(biometric.NoHardware))
		_, err := gate.Prove(ctx)
		require.ErrorIs(t, err, biometric.ErrPrecondition)
		require.False(t, errors.Is(err, biometric.ErrProofFailed))
	})
}

func TestCapabilityJSON(t *testing.T) {
	b, err := json.Marshal(biometric.HardwareUnavailable)
	require.NoError(t, err)
	require.Equal(t, `"HardwareUnavailable"`, string(b))

	var c biometric.Capability
	require.NoError(t, json.Unmarshal([]byte(`"NotEnrolled"`), &c))
	require.Equal(t, biometric.NotEnrolled, c)

	require.ErrorIs(t, json.Unmarshal([]byte(`"Fingerprint"`), &c), biometric.ErrUnknownCapability)
}
