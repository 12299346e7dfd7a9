package pipeline

// State is a step of a payment run.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateValidating State = "validating"
	StateConfirming State = "confirming"
	StateComposing  State = "composing"
	StateSigning    State = "signing"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

func (s State) String() string {
	return string(s)
}
