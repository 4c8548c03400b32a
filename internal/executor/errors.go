package executor

// FlowError is the machine-readable error surfaced on the wire. Internal
// diagnostics are logged, never returned.
type FlowError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FlowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func NewFlowError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// Wire error codes.
const (
	CodeFlowNotFound      = "flow_not_found"
	CodeSessionNotFound   = "session_not_found"
	CodeNodeNotFound      = "node_not_found"
	CodeNextNodeNotFound  = "next_node_not_found"
	CodePlanNotFound      = "plan_not_found"
	CodeInvalidSession    = "invalid_session"
	CodeSessionExists     = "session_exists"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeSessionTimeout    = "session_timeout"
	CodeCircularReference = "circular_reference"
	CodeFlowTooLong       = "flow_too_long"
	CodeDangerousKey      = "dangerous_key"
	CodeInvalidTransition = "invalid_transition"
	CodeInitFailed        = "init_failed"
	CodeSubmitFailed      = "submit_failed"
	CodeStateFetchFailed  = "state_fetch_failed"
	CodeCancelFailed      = "cancel_failed"
)
