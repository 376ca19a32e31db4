package attendance

// DayState is the per (identity, window, day) attendance state. Recorded is
// terminal for the day; the next day starts again at NotRecorded.
type DayState int

const (
	NotRecorded DayState = iota
	Recorded
)

func (s DayState) String() string {
	switch s {
	case NotRecorded:
		return "not_recorded"
	case Recorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// After returns the state following decision kind k.
func (s DayState) After(k DecisionKind) DayState {
	if s == NotRecorded && k == Accept {
		return Recorded
	}
	return s
}
