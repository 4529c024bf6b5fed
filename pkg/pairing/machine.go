package pairing

import (
	"sync"
	"time"
)

// DefaultCodeWindow is how long an issued pairing code stays valid.
// Expiry is passive: it is checked when a candidate is evaluated, not by
// a timer.
const DefaultCodeWindow = 10 * time.Minute

// State of the pairing machine.
type State uint8

const (
	// StateIdle means no code is currently issued.
	StateIdle State = iota
	// StateCodeIssued means a code is issued and waiting for an offer.
	StateCodeIssued
	// StateOfferReceived means a candidate code is being evaluated.
	StateOfferReceived
	// StateAccepted means the candidate matched (transient).
	StateAccepted
	// StateRejected means the candidate was refused (transient).
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCodeIssued:
		return "CODE_ISSUED"
	case StateOfferReceived:
		return "OFFER_RECEIVED"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Outcome of evaluating a candidate code.
type Outcome uint8

const (
	// EvalAccepted means the candidate matched the issued code.
	EvalAccepted Outcome = iota
	// EvalCodeMismatch means the candidate did not match; the issued code
	// stays valid for further attempts.
	EvalCodeMismatch
	// EvalCodeExpired means the issued code is older than the window.
	EvalCodeExpired
	// EvalNoCodeIssued means no code is currently issued.
	EvalNoCodeIssued
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case EvalAccepted:
		return "ACCEPTED"
	case EvalCodeMismatch:
		return "CODE_MISMATCH"
	case EvalCodeExpired:
		return "CODE_EXPIRED"
	case EvalNoCodeIssued:
		return "NO_CODE_ISSUED"
	default:
		return "UNKNOWN"
	}
}

// Machine is the host-side pairing state machine. It owns the currently
// issued code and decides pairing offers against it.
//
// Accepted and Rejected are transient states: they are reported to the
// transition callback and the machine immediately resets to Idle (the code
// was consumed by a match or expiry) or CodeIssued (mismatch, the code
// remains valid).
type Machine struct {
	mu       sync.Mutex
	window   time.Duration
	state    State
	code     Code
	issuedAt time.Time

	onTransition func(from, to State)
}

// NewMachine creates a pairing machine. A window of zero or less selects
// DefaultCodeWindow.
func NewMachine(window time.Duration) *Machine {
	if window <= 0 {
		window = DefaultCodeWindow
	}
	return &Machine{window: window}
}

// SetTransitionCallback installs an observer invoked after every state
// change, including the transient Accepted/Rejected steps. The callback
// runs outside the machine's lock.
func (m *Machine) SetTransitionCallback(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// IssueCode generates a fresh pairing code, stores it, and moves the
// machine to CodeIssued. Issuing while a code is active replaces it.
func (m *Machine) IssueCode() (Code, error) {
	code, err := GenerateCode()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	from := m.state
	m.code = code
	m.issuedAt = time.Now()
	m.state = StateCodeIssued
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil && from != StateCodeIssued {
		cb(from, StateCodeIssued)
	}
	return code, nil
}

// Current returns the issued code while it is active and unexpired.
func (m *Machine) Current() (Code, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCodeIssued || time.Since(m.issuedAt) > m.window {
		return 0, false
	}
	return m.code, true
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Evaluate decides a pairing offer carrying a candidate code.
//
// A match consumes the code (single use) and returns the machine to Idle.
// A mismatch leaves the code valid and returns to CodeIssued. An expired
// code is discarded. All intermediate transitions are reported to the
// transition callback.
func (m *Machine) Evaluate(candidate Code) Outcome {
	m.mu.Lock()

	if m.state != StateCodeIssued {
		m.mu.Unlock()
		return EvalNoCodeIssued
	}

	steps := []State{StateOfferReceived}
	var outcome Outcome
	switch {
	case time.Since(m.issuedAt) > m.window:
		outcome = EvalCodeExpired
		m.code = 0
		m.issuedAt = time.Time{}
		m.state = StateIdle
		steps = append(steps, StateRejected, StateIdle)
	case candidate == m.code:
		outcome = EvalAccepted
		m.code = 0
		m.issuedAt = time.Time{}
		m.state = StateIdle
		steps = append(steps, StateAccepted, StateIdle)
	default:
		outcome = EvalCodeMismatch
		m.state = StateCodeIssued
		steps = append(steps, StateRejected, StateCodeIssued)
	}
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil {
		from := StateCodeIssued
		for _, to := range steps {
			cb(from, to)
			from = to
		}
	}
	return outcome
}

// Invalidate discards any issued code and returns the machine to Idle.
func (m *Machine) Invalidate() {
	m.mu.Lock()
	from := m.state
	m.code = 0
	m.issuedAt = time.Time{}
	m.state = StateIdle
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil && from != StateIdle {
		cb(from, StateIdle)
	}
}
