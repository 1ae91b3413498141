package domain

// StatusCode is the numeric result of a registration attempt.
type StatusCode int

const (
	CodeSuccess         StatusCode = 0
	CodeRetry           StatusCode = 1
	CodeConflict        StatusCode = 3
	CodeManual          StatusCode = 4
	CodeNoProduct       StatusCode = 100
	CodeNoProductAlt    StatusCode = 101
	CodeTargetInit      StatusCode = 113
	CodeNoBrowser       StatusCode = 198
	CodeSourceManager   StatusCode = 199
	CodeNotYetAttempted StatusCode = -1
)

// RegistrationState is a node of the registration state machine.
type RegistrationState string

const (
	StateUninitialized      RegistrationState = "uninitialized"
	StateInitializing       RegistrationState = "initializing"
	StateAttempting         RegistrationState = "attempting"
	StateDone               RegistrationState = "done"
	StateManualInteraction  RegistrationState = "needs-manual-interaction"
	StateConflict           RegistrationState = "conflict"
	StateNoProduct          RegistrationState = "no-product"
	StateTargetError        RegistrationState = "target-error"
	StateNoBrowser          RegistrationState = "no-browser"
	StateSourceManagerError RegistrationState = "source-manager-error"
	StateUnknownError       RegistrationState = "unknown-error"
	StateCancelled          RegistrationState = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
func (s RegistrationState) Terminal() bool {
	switch s {
	case StateDone, StateNoProduct, StateTargetError, StateNoBrowser,
		StateSourceManagerError, StateUnknownError, StateCancelled:
		return true
	}
	return false
}

// Fatal reports whether the enclosing workflow must be aborted.
func (s RegistrationState) Fatal() bool {
	switch s {
	case StateTargetError, StateNoBrowser, StateSourceManagerError, StateUnknownError:
		return true
	}
	return false
}

// RegisterResponse is what the server answers to one attempt.
type RegisterResponse struct {
	Code StatusCode
	// Message is explanatory text (manual step instructions, diagnostics).
	Message string
	// URL is where the user completes a manual step.
	URL string
}

// SessionContext is everything the underlying session setup depends on.
// A change in any field requires re-initialization.
type SessionContext struct {
	SessionID      string   `json:"session_id"`
	ServerURL      string   `json:"server_url"`
	Email          string   `json:"email"`
	RegCode        string   `json:"reg_code"`
	Addons         []string `json:"addons"`
	HardwareForced bool     `json:"hardware_forced"`
}

// RegistrationAttempt tracks one registration session across retries.
type RegistrationAttempt struct {
	State          RegistrationState
	Code           StatusCode
	ManualText     string
	HardwareForced bool
	Hardware       *HardwareProfile
	// Fingerprint identifies the SessionContext last used for setup.
	Fingerprint string
	// Generation advances each time a new fingerprint is applied.
	Generation  int
	Initialized bool
	Iterations  int
	History     []RegistrationState
}

// NewRegistrationAttempt returns an attempt in the uninitialized state.
func NewRegistrationAttempt() *RegistrationAttempt {
	return &RegistrationAttempt{
		State:   StateUninitialized,
		Code:    CodeNotYetAttempted,
		History: []RegistrationState{StateUninitialized},
	}
}

// MoveTo records a state change.
func (a *RegistrationAttempt) MoveTo(s RegistrationState) {
	a.State = s
	a.History = append(a.History, s)
}
