// Package biometric gates credential acquisition on an interactive
// proof-of-presence. The platform sensor and its matching are opaque: the
// gate only sees a capability state and, per challenge, one terminal outcome.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/ironsession/internal/uuid"
)

var (
	// ErrPrecondition is returned when a proof is requested while the
	// capability is anything other than Available.
	ErrPrecondition = errors.New("biometric precondition failed")
	// ErrProofFailed is returned by Prove when the challenge was rejected or abandoned.
	ErrProofFailed = errors.New("biometric proof failed")
)

// Result is the terminal event of one challenge.
type Result int

const (
	// Accepted means the user proved presence.
	Accepted Result = iota + 1
	// Rejected means the sensor actively refused the proof.
	Rejected
	// Abandoned means the challenge timed out or was cancelled.
	Abandoned
)

// Attestation is the opaque proof handed to onSuccess.
type Attestation struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Outcome is what a Sensor reports for one challenge. Reason is a
// user-facing message for Rejected and Abandoned.
type Outcome struct {
	Result      Result
	Attestation Attestation
	Reason      string
}

// Sensor is the platform boundary. Challenge presents exactly one
// interactive prompt; an error is treated as the challenge being abandoned.
type Sensor interface {
	Capability(ctx context.Context) Capability
	Challenge(ctx context.Context) (Outcome, error)
}

// Gate runs proof-of-presence challenges against a Sensor.
type Gate struct {
	sensor Sensor
	logger *slog.Logger
	now    func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger for challenge outcomes.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// WithClock sets the time source used to stamp attestations.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate returns a Gate backed by sensor.
func NewGate(sensor Sensor, opts ...GateOption) *Gate {
	g := &Gate{sensor: sensor, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckCapability asks the sensor for its current state. It has no side effects.
func (g *Gate) CheckCapability(ctx context.Context) Capability {
	return g.sensor.Capability(ctx)
}

// RequestProof presents one challenge and reports its outcome through
// exactly one of the callbacks before returning. If the capability is not
// Available it returns ErrPrecondition without presenting anything. Failed
// or abandoned challenges are not retried.
func (g *Gate) RequestProof(ctx context.Context, onSuccess func(Attestation), onFailure func(reason string)) error {
	if c := g.CheckCapability(ctx); c != Available {
		return fmt.Errorf("%w: capability is %s", ErrPrecondition, c)
	}

	out, err := g.sensor.Challenge(ctx)
	if err != nil {
		out = Outcome{Result: Abandoned, Reason: err.Error()}
	} else if ctx.Err() != nil && out.Result != Accepted {
		out = Outcome{Result: Abandoned, Reason: ctx.Err().Error()}
	}

	switch out.Result {
	case Accepted:
		att := out.Attestation
		if att.ID == "" {
			att.ID = uuid.New()
		}
		if att.At.IsZero() {
			att.At = g.now()
		}
		g.logger.Debug("biometric proof accepted", slog.String("attestation_id", att.ID))
		onSuccess(att)
	case Rejected, Abandoned:
		g.logger.Info("biometric proof failed", slog.String("result", out.Result.String()), slog.String("reason", out.Reason))
		onFailure(out.Reason)
	default:
		g.logger.Warn("biometric sensor returned an unrecognised outcome", slog.Int("result", int(out.Result)))
		onFailure("unrecognised sensor outcome")
	}
	return nil
}

// Prove is the blocking form of RequestProof.
func (g *Gate) Prove(ctx context.Context) (Attestation, error) {
	var (
		att    Attestation
		reason string
		ok     bool
	)
	err := g.RequestProof(ctx,
		func(a Attestation) { att, ok = a, true },
		func(r string) { reason = r },
	)
	if err != nil {
		return Attestation{}, err
	}
	if !ok {
		return Attestation{}, fmt.Errorf("%w: %s", ErrProofFailed, reason)
	}
	return att, nil
}

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
