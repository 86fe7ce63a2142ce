package session

import "fmt"

// State is the lifecycle state of a [Session].
type State int

const (
	// Idle: no recording and no submission in flight.
	Idle State = iota

	// Acquiring: waiting for the capture device to open.
	Acquiring

	// Recording: the microphone is open and the tick loop is running.
	Recording

	// Finalizing: capture resources are being released and the recording
	// assembled.
	Finalizing

	// Uploading: a recording or typed message is being submitted.
	Uploading
)

var stateNames = [...]string{
	Idle:       "idle",
	Acquiring:  "acquiring",
	Recording:  "recording",
	Finalizing: "finalizing",
	Uploading:  "uploading",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler so states render by name in
// JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the names produced
// by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}
