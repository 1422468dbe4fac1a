package wire

import (
	"math"

	"github.com/clasp-io/clasp/value"
)

// DecodeMessage parses a positional-encoding payload (spec §4.2, VER=1) as
// produced by EncodeMessage: a message-type byte followed by that type's
// fixed fields.
func DecodeMessage(payload []byte) (Message, error) {
	c := newCursor(payload)
	t, err := c.u8()
	if err != nil {
		return nil, errTruncatedField("message type")
	}
	return decodeBody(c, MsgType(t))
}

func decodeBody(c *cursor, t MsgType) (Message, error) {
	switch t {
	case MsgHello:
		version, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("hello.version")
		}
		features, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("hello.features")
		}
		name, err := c.readString()
		if err != nil {
			return nil, err
		}
		token, err := c.readString()
		if err != nil {
			return nil, err
		}
		return Hello{Version: version, Features: features, Name: name, Token: token}, nil

	case MsgWelcome:
		version, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("welcome.version")
		}
		features, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("welcome.features")
		}
		serverTime, err := c.u64()
		if err != nil {
			return nil, errTruncatedField("welcome.server_time")
		}
		sessionID, err := c.readString()
		if err != nil {
			return nil, err
		}
		serverName, err := c.readString()
		if err != nil {
			return nil, err
		}
		token, err := c.readString()
		if err != nil {
			return nil, err
		}
		return Welcome{
			Version: version, Features: features, ServerTime: serverTime,
			SessionID: sessionID, ServerName: serverName, Token: token,
		}, nil

	case MsgAnnounce:
		ns, err := c.readString()
		if err != nil {
			return nil, err
		}
		sigs, err := readSignalDescriptors(c)
		if err != nil {
			return nil, err
		}
		return Announce{Namespace: ns, Signals: sigs}, nil

	case MsgSubscribe:
		subID, err := c.u32()
		if err != nil {
			return nil, errTruncatedField("subscribe.sub_id")
		}
		pattern, err := c.readString()
		if err != nil {
			return nil, err
		}
		kindMask, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("subscribe.kind_mask")
		}
		optFlags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("subscribe.opt_flags")
		}
		m := Subscribe{SubID: subID, Pattern: pattern, KindMask: kindMask, OptFlags: optFlags & 0xF8}
		if optFlags&0x01 != 0 {
			m.HasRate = true
			if m.MaxRate, err = c.u16(); err != nil {
				return nil, errTruncatedField("subscribe.max_rate")
			}
		}
		if optFlags&0x02 != 0 {
			m.HasEps = true
			bits, err := c.u32()
			if err != nil {
				return nil, errTruncatedField("subscribe.epsilon")
			}
			m.Epsilon = math.Float32frombits(bits)
		}
		if optFlags&0x04 != 0 {
			m.HasHist = true
			if m.History, err = c.u16(); err != nil {
				return nil, errTruncatedField("subscribe.history")
			}
		}
		return m, nil

	case MsgUnsubscribe:
		subID, err := c.u32()
		if err != nil {
			return nil, errTruncatedField("unsubscribe.sub_id")
		}
		return Unsubscribe{SubID: subID}, nil

	case MsgPublish:
		flags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("publish.flags")
		}
		addr, err := c.readString()
		if err != nil {
			return nil, err
		}
		v, err := c.readValue()
		if err != nil {
			return nil, err
		}
		m := Publish{
			SigKind:  SignalKind((flags >> 5) & 0x7),
			Phase:    GesturePhase(flags & 0x7),
			Address:  addr,
			HasValue: !v.IsNull(),
			Value:    v,
		}
		if flags&(1<<4) != 0 {
			m.HasTS = true
			if m.TS, err = c.u64(); err != nil {
				return nil, errTruncatedField("publish.ts")
			}
		}
		if flags&(1<<3) != 0 {
			m.HasID = true
			if m.GestureID, err = c.u32(); err != nil {
				return nil, errTruncatedField("publish.gesture_id")
			}
		}
		return m, nil

	case MsgSet:
		flags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("set.flags")
		}
		addr, err := c.readString()
		if err != nil {
			return nil, err
		}
		v, err := readValueOfType(c, flags&0x0F)
		if err != nil {
			return nil, err
		}
		m := Set{
			HasRev:  flags&(1<<7) != 0,
			Lock:    flags&(1<<6) != 0,
			Unlock:  flags&(1<<5) != 0,
			Address: addr,
			Value:   v,
		}
		if m.HasRev {
			if m.Revision, err = c.u64(); err != nil {
				return nil, errTruncatedField("set.revision")
			}
		}
		return m, nil

	case MsgGet:
		addr, err := c.readString()
		if err != nil {
			return nil, err
		}
		return Get{Address: addr}, nil

	case MsgSnapshot:
		n, err := c.u16()
		if err != nil {
			return nil, errTruncatedField("snapshot.count")
		}
		entries := make([]SnapshotEntry, 0, n)
		for i := 0; i < int(n); i++ {
			addr, err := c.readString()
			if err != nil {
				return nil, err
			}
			v, err := c.readValue()
			if err != nil {
				return nil, err
			}
			rev, err := c.u64()
			if err != nil {
				return nil, errTruncatedField("snapshot.revision")
			}
			entries = append(entries, SnapshotEntry{Address: addr, Value: v, Revision: rev})
		}
		return Snapshot{Entries: entries}, nil

	case MsgBundle:
		flags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("bundle.flags")
		}
		n, err := c.u16()
		if err != nil {
			return nil, errTruncatedField("bundle.count")
		}
		m := Bundle{HasTS: flags&1 != 0}
		if m.HasTS {
			if m.TS, err = c.u64(); err != nil {
				return nil, errTruncatedField("bundle.ts")
			}
		}
		m.Messages = make([]Message, 0, n)
		for i := 0; i < int(n); i++ {
			childLen, err := c.u16()
			if err != nil {
				return nil, errTruncatedField("bundle.child_len")
			}
			childBytes, err := c.bytesN(int(childLen))
			if err != nil {
				return nil, errTruncatedField("bundle.child")
			}
			child, err := DecodeMessage(childBytes)
			if err != nil {
				return nil, err
			}
			m.Messages = append(m.Messages, child)
		}
		return m, nil

	case MsgSync:
		t1, err := c.u64()
		if err != nil {
			return nil, errTruncatedField("sync.t1")
		}
		m := Sync{T1: t1}
		if c.remaining() >= 16 {
			m.HasT2T3 = true
			if m.T2, err = c.u64(); err != nil {
				return nil, errTruncatedField("sync.t2")
			}
			if m.T3, err = c.u64(); err != nil {
				return nil, errTruncatedField("sync.t3")
			}
		}
		return m, nil

	case MsgPing:
		return Ping{}, nil

	case MsgPong:
		return Pong{}, nil

	case MsgAck:
		corr, err := c.u32()
		if err != nil {
			return nil, errTruncatedField("ack.correlation")
		}
		return Ack{Correlation: corr}, nil

	case MsgError:
		flags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("error.flags")
		}
		code, err := c.u16()
		if err != nil {
			return nil, errTruncatedField("error.code")
		}
		msg, err := c.readString()
		if err != nil {
			return nil, err
		}
		m := Error{Code: code, Message: msg}
		if flags&1 != 0 {
			m.HasAddress = true
			if m.Address, err = c.readString(); err != nil {
				return nil, err
			}
		}
		if flags&2 != 0 {
			m.HasCorrelation = true
			if m.Correlation, err = c.u32(); err != nil {
				return nil, errTruncatedField("error.correlation")
			}
		}
		return m, nil

	case MsgQuery:
		pattern, err := c.readString()
		if err != nil {
			return nil, err
		}
		return Query{Pattern: pattern}, nil

	case MsgResult:
		sigs, err := readSignalDescriptors(c)
		if err != nil {
			return nil, err
		}
		return Result{Signals: sigs}, nil

	default:
		return nil, errUnknownMessageType(byte(t))
	}
}

func readSignalDescriptors(c *cursor) ([]SignalDescriptor, error) {
	n, err := c.u16()
	if err != nil {
		return nil, errTruncatedField("signal descriptor count")
	}
	out := make([]SignalDescriptor, 0, n)
	for i := 0; i < int(n); i++ {
		addr, err := c.readString()
		if err != nil {
			return nil, err
		}
		kind, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("signal descriptor kind")
		}
		flags, err := c.u8()
		if err != nil {
			return nil, errTruncatedField("signal descriptor flags")
		}
		sd := SignalDescriptor{Address: addr, Kind: SignalKind(kind), Retained: flags&1 != 0, HasRev: flags&2 != 0}
		if sd.HasRev {
			if sd.Revision, err = c.u64(); err != nil {
				return nil, errTruncatedField("signal descriptor revision")
			}
		}
		out = append(out, sd)
	}
	return out, nil
}

// readValueOfType reads a Value payload whose type is already known (from
// SET's flags nibble) rather than from a leading type byte.
func readValueOfType(c *cursor, vt byte) (value.Value, error) {
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
