package export

// State is the phase an export attempt is in.
type State int

const (
	StateIdle State = iota
	StateTrimming
	StatePromotingSingle
	StateConcatenating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTrimming:
		return "trimming"
	case StatePromotingSingle:
		return "promoting"
	case StateConcatenating:
		return "concatenating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event is one state transition. Step is the 1-based region being trimmed
// in StateTrimming and zero otherwise; Total is the region count.
type Event struct {
	State State `json:"state"`
	Step  int   `json:"step,omitempty"`
	Total int   `json:"total"`
	Err   error `json:"-"`
}
