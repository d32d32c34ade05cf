package delivery

import "fmt"

// State represents the outgoing lifecycle of a message.
type State string

const (
	Sending   State = "sending"
	Sent      State = "sent"
	Delivered State = "delivered"
	Read      State = "read"
	Failed    State = "failed"

	// Received marks an incoming message; it never moves through the
	// outgoing machine.
	Received State = "received"

	// Corrupted marks a message whose payload could not be decrypted after
	// the one allowed key-refresh retry. Terminal display state.
	Corrupted State = "corrupted"
)

// rank orders the forward-only outgoing states. States outside this map do
// not participate in monotonic comparison.
var rank = map[State]int{
	Sending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// Rank returns the monotonic position of s, or -1 if s is not a ranked
// outgoing state.
func Rank(s State) int {
	r, ok := rank[s]
	if !ok {
		return -1
	}
	return r
}

// CanAdvance reports whether a transition from one state to another is a
// legal forward move. Late or duplicate events that would regress state
// must be dropped by callers, not treated as errors.
func CanAdvance(from, to State) bool {
	if to == Failed {
		// A send can only fail before it is acknowledged.
		return from == Sending
	}
	if from == Failed {
		// Only an explicit user retry restarts the machine.
		return to == Sending
	}
	fr, fok := rank[from]
	tr, tok := rank[to]
	if !fok || !tok {
		return false
	}
	return tr > fr
}

// Parse validates a wire status string.
func Parse(s string) (State, error) {
	switch State(s) {
	case Sending, Sent, Delivered, Read, Failed, Received, Corrupted:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown delivery state %q", s)
}
