package biometric

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Capability is the sensor state reported by CheckCapability. It is queried
// fresh on every call because enrollment and hardware availability change
// while the process runs.
type Capability int

// The zero value is UnknownError, so a sensor that never sets its state is
// refused rather than challenged.
const (
	UnknownError Capability = iota
	Available
	NoHardware
	HardwareUnavailable
	NotEnrolled
)

// ErrUnknownCapability is returned when decoding an unrecognised capability name.
var ErrUnknownCapability = errors.New("unknown capability")

var capabilityNames = map[Capability]string{
	Available:           "Available",
	NoHardware:          "NoHardware",
	HardwareUnavailable: "HardwareUnavailable",
	NotEnrolled:         "NotEnrolled",
	UnknownError:        "UnknownError",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "UnknownError"
}

func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Capability) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshaling capability: %w", err)
	}
	for v, name := range capabilityNames {
		if name == s {
			*c = v
			return nil
		}
	}
	return ErrUnknownCapability
}
