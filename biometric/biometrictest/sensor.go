// Package biometrictest provides a scripted Sensor for tests.
package biometrictest

import (
	"context"
	"sync"

	"github.com/jmcleod/ironsession/biometric"
)

// Sensor replays a fixed capability and a queue of challenge outcomes.
// When the queue is exhausted every further challenge is abandoned.
type Sensor struct {
	mu         sync.Mutex
	capability biometric.Capability
	outcomes   []biometric.Outcome
	challenges int
	block      chan struct{}
}

// NewSensor returns a Sensor reporting capability c and answering
// challenges with outcomes in order.
func NewSensor(c biometric.Capability, outcomes ...biometric.Outcome) *Sensor {
	return &Sensor{capability: c, outcomes: outcomes}
}

// SetCapability changes the reported capability, as when the user enrolls
// or the hardware becomes busy.
func (s *Sensor) SetCapability(c biometric.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capability = c
}

// BlockUntilCancelled makes the next challenges wait for ctx to be done,
// simulating a prompt the user never answers.
func (s *Sensor) BlockUntilCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = make(chan struct{})
}

// Challenges reports how many challenges were presented.
func (s *Sensor) Challenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges
}

func (s *Sensor) Capability(context.Context) biometric.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capability
}

func (s *Sensor) Challenge(ctx context.Context) (biometric.Outcome, error) {
	s.mu.Lock()
	s.challenges++
	block := s.block
	var out biometric.Outcome
	if len(s.outcomes) > 0 {
		out = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	} else {
		out = biometric.Outcome{Result: biometric.Abandoned, Reason: "no scripted outcome"}
	}
	s.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return biometric.Outcome{}, ctx.Err()
		case <-block:
		}
	}
	return out, nil
}

// Accept is an Outcome that proves presence.
func Accept() biometric.Outcome {
	return biometric.Outcome{Result: biometric.Accepted}
}

// Reject is an Outcome that refuses the proof with reason.
func Reject(reason string) biometric.Outcome {
	return biometric.Outcome{Result: biometric.Rejected, Reason: reason}
}
