package link

// LinkState is what the driver expects next from the display.
type LinkState int

// Link states.
const (
	StateIdle LinkState = iota
	StateWaitAckNak
	StateWaitReportHeader
	StateReceivingReport
	StateReceivingEvent
	StateShuttingDown

	stateInvalid LinkState = -1
)

// StateStackDepth is the capacity of StateStack including the base slot.
const StateStackDepth = 5

var stateNames = [...]string{
	"idle",
	"wait-ack-nak",
	"wait-report-header",
	"receiving-report",
	"receiving-event",
	"shutting-down",
}

// String implements fmt.Stringer.
func (s LinkState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// IsReceiving indicates a frame is being assembled.
func (s LinkState) IsReceiving() bool {
	return s == StateReceivingReport || s == StateReceivingEvent
}

// StateStack is a fixed-depth stack of link states.
// The base slot is always StateIdle and is never popped.
// The zero value is ready to use.
type StateStack struct {
	states [StateStackDepth]LinkState
	top    int
}

// Current returns the state on top.
func (s *StateStack) Current() LinkState {
	return s.states[s.top]
}

// Depth returns the number of states pushed above the base.
func (s *StateStack) Depth() int {
	return s.top
}

// Push saves the current state and makes state current.
func (s *StateStack) Push(state LinkState) error {
	if s.top+1 >= StateStackDepth {
		return ErrStackOverflow
	}
	s.top++
	s.states[s.top] = state
	return nil
}

// Pop restores the previous state. No-op at the base.
func (s *StateStack) Pop() {
	if s.top > 0 {
		s.states[s.top] = stateInvalid
		s.top--
	}
}

// Reset drops everything down to the base state.
func (s *StateStack) Reset() {
	for s.top > 0 {
		s.Pop()
	}
	s.states[0] = StateIdle
}
