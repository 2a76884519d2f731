package session

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorBusy               ErrorCode = "SESSION_BUSY"
	ErrorClosed             ErrorCode = "SESSION_CLOSED"
	ErrorTransport          ErrorCode = "TRANSPORT_ERROR"
	ErrorAbandoned          ErrorCode = "EXCHANGE_ABANDONED"
	ErrorInvalidRating      ErrorCode = "INVALID_RATING"
	ErrorFeedbackNotOffered ErrorCode = "FEEDBACK_NOT_OFFERED"
	ErrorUpstream           ErrorCode = "UPSTREAM_ERROR"
)

// Error is returned by every Session operation. Partial carries assistant
// text that was applied before a stream failed.
type Error struct {
	Code    ErrorCode
	Reason  string
	Err     error
	Partial string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("session: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("session: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
