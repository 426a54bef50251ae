package messaging

import "fmt"

// ErrorCode identifies the category of an error frame
type ErrorCode string

const (
	CodeInvalidJSON          ErrorCode = "INVALID_JSON"
	CodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	CodeUnknownEvent         ErrorCode = "UNKNOWN_EVENT"
	CodeAuthRequired         ErrorCode = "AUTH_REQUIRED"
	CodeAuthFailed           ErrorCode = "AUTH_FAILED"
	CodeAlreadyAuthenticated ErrorCode = "ALREADY_AUTHENTICATED"
	CodeNotInRoom            ErrorCode = "NOT_IN_ROOM"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
)

// ProtocolError is a non-fatal error reported to the client as an error frame.
// The connection stays open.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a ProtocolError
func Errorf(code ErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
