package router

import "fmt"

// ErrorCode is the numeric ERROR-frame code (spec §7).
type ErrorCode uint16

const (
	CodeInvalidFrame         ErrorCode = 100
	CodeUnknownMessageType   ErrorCode = 101
	CodeInvalidAddress       ErrorCode = 200
	CodeNotFound             ErrorCode = 201
	CodePermissionDenied     ErrorCode = 300
	CodeLocked               ErrorCode = 301
	CodeStaleRevision        ErrorCode = 400
	CodeTypeMismatch         ErrorCode = 401
	CodeQuotaExceeded        ErrorCode = 402
	CodeRateLimited          ErrorCode = 403
	CodeOverflow             ErrorCode = 404
	CodeInternal             ErrorCode = 500
)

// HandlerError is a per-request rejection that the caller renders as an
// ERROR frame (spec §7); it never itself closes the session.
type HandlerError struct {
	Code    ErrorCode
	Message string
	Address string
	HasAddr bool
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("router: %d %s", e.Code, e.Message)
}

func errPermissionDenied(addr string) error {
	return &HandlerError{Code: CodePermissionDenied, Message: "permission denied", Address: addr, HasAddr: true}
}

func errNotFound(addr string) error {
	return &HandlerError{Code: CodeNotFound, Message: "not found", Address: addr, HasAddr: true}
}

func errInvalidAddress(detail string) error {
	return &HandlerError{Code: CodeInvalidAddress, Message: detail}
}

func errQuotaExceeded(detail string) error {
	return &HandlerError{Code: CodeQuotaExceeded, Message: detail}
}

func errInternal(detail string) error {
	return &HandlerError{Code: CodeInternal, Message: detail}
}
