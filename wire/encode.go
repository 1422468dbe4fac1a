package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/clasp-io/clasp/value"
)

// EncodeMessage serializes msg into its compact positional payload (spec
// §4.2, VER=1): a leading message-type byte followed by the type's fixed
// positional fields. The result is ready to place in Frame.Payload.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Type()))
	if err := encodeBody(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeBody(buf *bytes.Buffer, msg Message) error {
	switch m := msg.(type) {
	case Hello:
		buf.WriteByte(m.Version)
		buf.WriteByte(m.Features)
		if err := writeString(buf, m.Name); err != nil {
			return err
		}
		return writeString(buf, m.Token)

	case Welcome:
		buf.WriteByte(m.Version)
		buf.WriteByte(m.Features)
		writeU64(buf, m.ServerTime)
		if err := writeString(buf, m.SessionID); err != nil {
			return err
		}
		if err := writeString(buf, m.ServerName); err != nil {
			return err
		}
		return writeString(buf, m.Token)

	case Announce:
		if err := writeString(buf, m.Namespace); err != nil {
			return err
		}
		return writeSignalDescriptors(buf, m.Signals)

	case Subscribe:
		writeU32(buf, m.SubID)
		if err := writeString(buf, m.Pattern); err != nil {
			return err
		}
		buf.WriteByte(m.KindMask)
		optFlags := m.OptFlags & 0xF8
		if m.HasRate {
			optFlags |= 0x01
		}
		if m.HasEps {
			optFlags |= 0x02
		}
		if m.HasHist {
			optFlags |= 0x04
		}
		buf.WriteByte(optFlags)
		if m.HasRate {
			writeU16(buf, m.MaxRate)
		}
		if m.HasEps {
			writeF32(buf, m.Epsilon)
		}
		if m.HasHist {
			writeU16(buf, m.History)
		}
		return nil

	case Unsubscribe:
		writeU32(buf, m.SubID)
		return nil

	case Publish:
		var flags byte
		flags |= byte(m.SigKind&0x7) << 5
		if m.HasTS {
			flags |= 1 << 4
		}
		if m.HasID {
			flags |= 1 << 3
		}
		flags |= byte(m.Phase & 0x7)
		buf.WriteByte(flags)
		if err := writeString(buf, m.Address); err != nil {
			return err
		}
		v := m.Value
		if !m.HasValue {
			v = value.Null()
		}
		if err := writeValue(buf, v); err != nil {
			return err
		}
		if m.HasTS {
			writeU64(buf, m.TS)
		}
		if m.HasID {
			writeU32(buf, m.GestureID)
		}
		return nil

	case Set:
		var flags byte
		if m.HasRev {
			flags |= 1 << 7
		}
		if m.Lock {
			flags |= 1 << 6
		}
		if m.Unlock {
			flags |= 1 << 5
		}
		flags |= byte(valueTypeCode(m.Value)) & 0x0F
		buf.WriteByte(flags)
		if err := writeString(buf, m.Address); err != nil {
			return err
		}
		if err := writeValuePayloadOnly(buf, m.Value); err != nil {
			return err
		}
		if m.HasRev {
			writeU64(buf, m.Revision)
		}
		return nil

	case Get:
		return writeString(buf, m.Address)

	case Snapshot:
		if len(m.Entries) > maxU16 {
			return errOversizedPayload("snapshot entry count exceeds 65535")
		}
		writeU16(buf, uint16(len(m.Entries)))
		for _, e := range m.Entries {
			if err := writeString(buf, e.Address); err != nil {
				return err
			}
			if err := writeValue(buf, e.Value); err != nil {
				return err
			}
			writeU64(buf, e.Revision)
		}
		return nil

	case Bundle:
		var flags byte
		if m.HasTS {
			flags |= 1
		}
		buf.WriteByte(flags)
		if len(m.Messages) > maxU16 {
			return errOversizedPayload("bundle message count exceeds 65535")
		}
		writeU16(buf, uint16(len(m.Messages)))
		if m.HasTS {
			writeU64(buf, m.TS)
		}
		for _, child := range m.Messages {
			encoded, err := EncodeMessage(child)
			if err != nil {
				return err
			}
			if len(encoded) > maxU16 {
				return errOversizedPayload("embedded bundle message exceeds 65535 bytes")
			}
			writeU16(buf, uint16(len(encoded)))
			buf.Write(encoded)
		}
		return nil

	case Sync:
		writeU64(buf, m.T1)
		if m.HasT2T3 {
			writeU64(buf, m.T2)
			writeU64(buf, m.T3)
		}
		return nil

	case Ping:
		return nil

	case Pong:
		return nil

	case Ack:
		writeU32(buf, m.Correlation)
		return nil

	case Error:
		var flags byte
		if m.HasAddress {
			flags |= 1
		}
		if m.HasCorrelation {
			flags |= 2
		}
		buf.WriteByte(flags)
		writeU16(buf, m.Code)
		if err := writeString(buf, m.Message); err != nil {
			return err
		}
		if m.HasAddress {
			if err := writeString(buf, m.Address); err != nil {
				return err
			}
		}
		if m.HasCorrelation {
			writeU32(buf, m.Correlation)
		}
		return nil

	case Query:
		return writeString(buf, m.Pattern)

	case Result:
		return writeSignalDescriptors(buf, m.Signals)

	default:
		return errUnknownMessageType(byte(msg.Type()))
	}
}

func writeSignalDescriptors(buf *bytes.Buffer, sigs []SignalDescriptor) error {
	if len(sigs) > maxU16 {
		return errOversizedPayload("signal descriptor count exceeds 65535")
	}
	writeU16(buf, uint16(len(sigs)))
	for _, s := range sigs {
		if err := writeString(buf, s.Address); err != nil {
			return err
		}
		buf.WriteByte(byte(s.Kind))
		var flags byte
		if s.Retained {
			flags |= 1
		}
		if s.HasRev {
			flags |= 2
		}
		buf.WriteByte(flags)
		if s.HasRev {
			writeU64(buf, s.Revision)
		}
	}
	return nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeF32(buf *bytes.Buffer, v float32) {
	writeU32(buf, math.Float32bits(v))
}

// valueTypeCode returns the value-type wire code used both standalone (by
// writeValue) and packed into SET's flags nibble, where the type travels in
// the flags byte instead of a redundant leading type byte.
func valueTypeCode(v value.Value) byte {
	switch v.Kind() {
	case value.KindNull:
		return vtNull
	case value.KindBool:
		return vtBool
	case value.KindI8:
		return vtI8
	case value.KindI16:
		return vtI16
	case value.KindI32:
		return vtI32
	case value.KindI64:
		return vtI64
	case value.KindF32:
		return vtF32
	case value.KindF64:
		return vtF64
	case value.KindString:
		return vtString
	case value.KindBytes:
		return vtBytes
	case value.KindArray:
		return vtArray
	case value.KindMap:
		return vtMap
	default:
		return vtNull
	}
}

// writeValuePayloadOnly writes a Value's typed payload without its leading
// value-type byte, for SET where the type is already implied by the flags
// nibble (spec §9's "31 vs 32 bytes" note resolves to: no redundant type
// byte when flags already carry it).
func writeValuePayloadOnly(buf *bytes.Buffer, v value.Value) error {
	var tmp bytes.Buffer
	if err := writeValue(&tmp, v); err != nil {
		return err
	}
	buf.Write(tmp.Bytes()[1:])
	return nil
}
