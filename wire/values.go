package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/clasp-io/clasp/value"
)

// Value-type wire codes (spec §4.2 Value type table).
const (
	vtNull   = 0x00
	vtBool   = 0x01
	vtI8     = 0x02
	vtI16    = 0x03
	vtI32    = 0x04
	vtI64    = 0x05
	vtF32    = 0x06
	vtF64    = 0x07
	vtString = 0x08
	vtBytes  = 0x09
	vtArray  = 0x0A
	vtMap    = 0x0B
)

const maxU16 = 0xFFFF

// writeString appends a u16-length-prefixed UTF-8 string. Strings longer
// than maxU16 bytes are rejected (OversizedPayload) rather than silently
// truncated.
func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxU16 {
		return errOversizedPayload("string exceeds 65535 bytes")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
	return nil
}

func writeBytesBlob(buf *bytes.Buffer, b []byte) error {
	if len(b) > maxU16 {
		return errOversizedPayload("bytes exceed 65535 bytes")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
	return nil
}

// writeValue appends a value-type byte followed by its typed payload.
func writeValue(buf *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		buf.WriteByte(vtNull)
	case value.KindBool:
		buf.WriteByte(vtBool)
		b, _ := v.Bool()
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindI8:
		buf.WriteByte(vtI8)
		i, _ := v.Int64()
		buf.WriteByte(byte(int8(i)))
	case value.KindI16:
		buf.WriteByte(vtI16)
		i, _ := v.Int64()
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(i)))
		buf.Write(b[:])
	case value.KindI32:
		buf.WriteByte(vtI32)
		i, _ := v.Int64()
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(i)))
		buf.Write(b[:])
	case value.KindI64:
		buf.WriteByte(vtI64)
		i, _ := v.Int64()
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(i))
		buf.Write(b[:])
	case value.KindF32:
		buf.WriteByte(vtF32)
		bits, _ := v.Float32Bits()
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], bits)
		buf.Write(b[:])
	case value.KindF64:
		buf.WriteByte(vtF64)
		bits, _ := v.Float64Bits()
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case value.KindString:
		buf.WriteByte(vtString)
		s, _ := v.String()
		return writeString(buf, s)
	case value.KindBytes:
		buf.WriteByte(vtBytes)
		b, _ := v.Bytes()
		return writeBytesBlob(buf, b)
	case value.KindArray:
		buf.WriteByte(vtArray)
		arr, _ := v.Array()
		if len(arr) > maxU16 {
			return errOversizedPayload("array exceeds 65535 elements")
		}
		var cb [2]byte
		binary.BigEndian.PutUint16(cb[:], uint16(len(arr)))
		buf.Write(cb[:])
		for _, e := range arr {
			if err := writeValue(buf, e); err != nil {
				return err
			}
		}
	case value.KindMap:
		buf.WriteByte(vtMap)
		m, _ := v.Map()
		if len(m) > maxU16 {
			return errOversizedPayload("map exceeds 65535 entries")
		}
		var cb [2]byte
		binary.BigEndian.PutUint16(cb[:], uint16(len(m)))
		buf.Write(cb[:])
		for k, e := range m {
			if err := writeString(buf, k); err != nil {
				return err
			}
			if err := writeValue(buf, e); err != nil {
				return err
			}
		}
	default:
		return errInvalidValueType(0)
	}
	return nil
}

// cursor is a single-pass, non-backtracking reader over a decode buffer.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return errBufferTooSmall(n, c.remaining())
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) bytesN(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.u16()
	if err != nil {
		return "", errTruncatedField("string length")
	}
	b, err := c.bytesN(int(n))
	if err != nil {
		return "", errTruncatedField("string data")
	}
	return string(b), nil
}

func (c *cursor) readBytesBlob() ([]byte, error) {
	n, err := c.u16()
	if err != nil {
		return nil, errTruncatedField("bytes length")
	}
	b, err := c.bytesN(int(n))
	if err != nil {
		return nil, errTruncatedField("bytes data")
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (c *cursor) readValue() (value.Value, error) {
	vt, err := c.u8()
	if err != nil {
		return value.Value{}, errTruncatedField("value type")
	}
	switch vt {
	case vtNull:
		return value.Null(), nil
	case vtBool:
		b, err := c.u8()
		if err != nil {
			return value.Value{}, errTruncatedField("bool payload")
		}
		return value.Bool(b != 0), nil
	case vtI8:
		b, err := c.u8()
		if err != nil {
			return value.Value{}, errTruncatedField("i8 payload")
		}
		return value.Int8(int8(b)), nil
	case vtI16:
		u, err := c.u16()
		if err != nil {
			return value.Value{}, errTruncatedField("i16 payload")
		}
		return value.Int16(int16(u)), nil
	case vtI32:
		u, err := c.u32()
		if err != nil {
			return value.Value{}, errTruncatedField("i32 payload")
		}
		return value.Int32(int32(u)), nil
	case vtI64:
		u, err := c.u64()
		if err != nil {
			return value.Value{}, errTruncatedField("i64 payload")
		}
		return value.Int64(int64(u)), nil
	case vtF32:
		u, err := c.u32()
		if err != nil {
			return value.Value{}, errTruncatedField("f32 payload")
		}
		return value.Float32(math.Float32frombits(u)), nil
	case vtF64:
		u, err := c.u64()
		if err != nil {
			return value.Value{}, errTruncatedField("f64 payload")
		}
		return value.Float64(math.Float64frombits(u)), nil
	case vtString:
		s, err := c.readString()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case vtBytes:
		b, err := c.readBytesBlob()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bytes(b), nil
	case vtArray:
		n, err := c.u16()
		if err != nil {
			return value.Value{}, errTruncatedField("array count")
		}
		arr := make([]value.Value, 0, n)
		for i := 0; i < int(n); i++ {
			e, err := c.readValue()
			if err != nil {
				return value.Value{}, err
			}
			arr = append(arr, e)
		}
		return value.Array(arr), nil
	case vtMap:
		n, err := c.u16()
		if err != nil {
			return value.Value{}, errTruncatedField("map count")
		}
		m := make(map[string]value.Value, n)
		for i := 0; i < int(n); i++ {
			k, err := c.readString()
			if err != nil {
				return value.Value{}, err
			}
			e, err := c.readValue()
			if err != nil {
				return value.Value{}, err
			}
			m[k] = e
		}
		return value.Map(m), nil
	default:
		return value.Value{}, errInvalidValueType(vt)
	}
}
