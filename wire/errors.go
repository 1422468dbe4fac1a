// Package wire implements CLASP's wire codec (spec §4.2): frame
// encode/decode, the compact positional message encoding, the legacy
// map-keyed fallback, and the Value blob encoding shared by both.
package wire

import "fmt"

// DecodeError is returned by frame and message decoding. Kind matches the
// failure names in spec §4.2/§7 so callers can map it directly onto an
// ERROR frame.
type DecodeError struct {
	Kind   string
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "wire: " + e.Kind
	}
	return fmt.Sprintf("wire: %s: %s", e.Kind, e.Detail)
}

func errBufferTooSmall(needed, have int) error {
	return &DecodeError{Kind: "BufferTooSmall", Detail: fmt.Sprintf("needed %d, have %d", needed, have)}
}

func errInvalidMagic() error { return &DecodeError{Kind: "InvalidMagic"} }

func errUnknownMessageType(code byte) error {
	return &DecodeError{Kind: "UnknownMessageType", Detail: fmt.Sprintf("code=0x%02x", code)}
}

func errInvalidValueType(code byte) error {
	return &DecodeError{Kind: "InvalidValueType", Detail: fmt.Sprintf("code=0x%02x", code)}
}

func errTruncatedField(field string) error {
	return &DecodeError{Kind: "TruncatedField", Detail: field}
}

func errOversizedPayload(detail string) error {
	return &DecodeError{Kind: "OversizedPayload", Detail: detail}
}
