package capture

import "time"

// State is a node in the capture state machine.
type State string

const (
	StateSelectingOutlet    State = "selecting_outlet"
	StateValidatingLocation State = "validating_location"
	StateBlocked            State = "blocked"
	StateReadyToCapture     State = "ready_to_capture"
	StateCapturing          State = "capturing"
	StateCompressing        State = "compressing"
	StateCompositing        State = "compositing"
	StateCollectingFields   State = "collecting_fields"
	StateSubmitting         State = "submitting"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Terminal reports whether the session can make no further progress. Blocked
// is not terminal: revalidation can move the session forward once the operator
// has acted on the remediation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition is one observable state change, emitted for UI binding.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
