package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	magicByte      = 0x53
	maxFramePayload = 65535
)

// frame flag bit layout (spec §4.2): [QoS:2][TS:1][ENC:1][CMP:1][VER:3],
// most-significant bit first.
const (
	flagQoSShift = 6
	flagQoSMask  = 0x3
	flagTSBit    = 1 << 5
	flagEncBit   = 1 << 4
	flagCmpBit   = 1 << 3
	flagVerMask  = 0x7
)

// Frame is the outer envelope every message travels in (spec §4.2). ENC/CMP
// are hints consumed by the transport layer; the core never compresses or
// encrypts payloads itself.
type Frame struct {
	QoS          QoS
	Enc          bool
	Cmp          bool
	Ver          uint8 // 0 = legacy map payload, 1 = compact positional payload
	HasTimestamp bool
	Timestamp    uint64
	Payload      []byte
}

// EncodeFrame serializes f into its wire representation. Payloads larger
// than 65535 bytes are rejected.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > maxFramePayload {
		return nil, errOversizedPayload("frame payload exceeds 65535 bytes")
	}
	var buf bytes.Buffer
	buf.Grow(4 + len(f.Payload) + 8)
	buf.WriteByte(magicByte)

	flags := byte(f.QoS&flagQoSMask) << flagQoSShift
	if f.HasTimestamp {
		flags |= flagTSBit
	}
	if f.Enc {
		flags |= flagEncBit
	}
	if f.Cmp {
		flags |= flagCmpBit
	}
	flags |= f.Ver & flagVerMask
	buf.WriteByte(flags)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.Payload)))
	buf.Write(lenBuf[:])

	if f.HasTimestamp {
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], f.Timestamp)
		buf.Write(tsBuf[:])
	}
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// DecodeFrame reads exactly one frame from r: header first (to learn
// whether a timestamp follows and how long the payload is), then the
// payload itself. This is the shape a reliable stream transport uses;
// datagram transports instead decode a single already-received datagram
// with DecodeFrameBytes.
func DecodeFrame(r io.Reader) (Frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, wrapReadErr(err, "frame header")
	}
	if head[0] != magicByte {
		return Frame{}, errInvalidMagic()
	}
	flags := head[1]
	f := Frame{
		QoS:          QoS((flags >> flagQoSShift) & flagQoSMask),
		HasTimestamp: flags&flagTSBit != 0,
		Enc:          flags&flagEncBit != 0,
		Cmp:          flags&flagCmpBit != 0,
		Ver:          flags & flagVerMask,
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, wrapReadErr(err, "payload length")
	}
	payloadLen := binary.BigEndian.Uint16(lenBuf[:])

	if f.HasTimestamp {
		var tsBuf [8]byte
		if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
			return Frame{}, wrapReadErr(err, "timestamp")
		}
		f.Timestamp = binary.BigEndian.Uint64(tsBuf[:])
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, wrapReadErr(err, "payload")
		}
	}
	f.Payload = payload
	return f, nil
}

// DecodeFrameBytes decodes a single frame from a byte slice that must
// contain exactly one frame's worth of bytes (the datagram-transport case,
// spec §6: "one datagram per frame, max 65547 bytes including header").
func DecodeFrameBytes(b []byte) (Frame, error) {
	f, err := DecodeFrame(bytes.NewReader(b))
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func wrapReadErr(err error, field string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &DecodeError{Kind: "Eof", Detail: field}
	}
	return errTruncatedField(field)
}
