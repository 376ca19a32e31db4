package enrollment

// State of the enrollment controller.
type State int

const (
	Idle State = iota
	Detected
	AwaitingApproval
	ResolvedAccepted
	ResolvedRejected
)

// transitions lists the legal next states for each state. Detected and the
// resolved states are passed through within a single call.
var transitions = map[State][]State{
	Idle:             {Detected},
	Detected:         {AwaitingApproval, Idle},
	AwaitingApproval: {ResolvedAccepted, ResolvedRejected, Idle},
	ResolvedAccepted: {Idle},
	ResolvedRejected: {Idle},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detected:
		return "detected"
	case AwaitingApproval:
		return "awaiting_approval"
	case ResolvedAccepted:
		return "resolved_accepted"
	case ResolvedRejected:
		return "resolved_rejected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
