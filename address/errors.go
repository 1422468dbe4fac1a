package address

import "fmt"

// Error represents a structured address/pattern parsing failure. It
// preserves the offending input and a machine-usable reason so callers can
// map it onto a wire ERROR frame (spec §7: InvalidAddress / InvalidPattern).
type Error struct {
	// Reason is a short machine-usable token, e.g. "empty_segment".
	Reason string
	// Input is the address or pattern string that failed to parse.
	Input string
}

// New constructs an Error for the given reason and input.
func New(reason, input string) *Error {
	return &Error{Reason: reason, Input: input}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("address: %s: %q", e.Reason, e.Input)
}
