package channel

import (
	"fmt"
	"slices"

	"github.com/einfra-labs/chatbox/internal/bus"
)

// State is the channel session lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Identified   State = "IDENTIFIED"
)

var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Identified, Disconnected},
	Identified:   {Disconnected},
}

// transition moves the session to a new state, enforcing the table above.
// Callers hold s.mu.
func (s *Session) transition(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid channel transition from %s to %s", s.state, to)
	}
	s.state = to
	if s.bus != nil {
		s.bus.Emit(bus.KindChannelState, to)
	}
	return nil
}
