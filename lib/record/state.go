package record

import "strings"

// State is the consistency level of a record. Higher is stronger.
type State uint8

const (
	StateVoid     State = iota // No baseline and no local writes
	StateClient                // Local writes wait for a baseline
	StateServer                // Baseline confirmed by upstream
	StateStale                 // Baseline reconstructed by upstream or authored by a provider
	StateProvider              // An active provider owns the record
)

// String returns the name of a State.
func (s State) String() string {
	switch s {
	case StateVoid:
		return "VOID"
	case StateClient:
		return "CLIENT"
	case StateServer:
		return "SERVER"
	case StateStale:
		return "STALE"
	case StateProvider:
		return "PROVIDER"
	default:
		return "UNKNOWN"
	}
}

// ParseState returns the State for a name, e.g. "server"
func ParseState(s string) (State, bool) {
	for st := StateVoid; st <= StateProvider; st++ {
		if strings.EqualFold(st.String(), s) {
			return st, true
		}
	}
	return StateVoid, false
}
