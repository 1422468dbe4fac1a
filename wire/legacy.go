package wire

import (
	"bytes"
	"sort"

	"github.com/clasp-io/clasp/value"
)

// Legacy map-keyed encoding (spec §9: VER=0 payloads were never standardized
// up front, only reserved). Every legacy payload is a single MessagePack-
// style map whose "type" entry names the message and whose remaining
// entries are its fields. Readers must be able to tell a VER=1 positional
// payload from a VER=0 legacy one without consulting the frame's VER bits,
// so legacy payloads always begin with a map-header byte drawn from the
// reserved ranges the positional codec never produces as a message-type
// byte: fixmap (0x80-0x8F), map16 (0xDE), map32 (0xDF).
const (
	legacyFixmapBase = 0x80
	legacyFixmapMax  = 0x8F
	legacyMap16      = 0xDE
	legacyMap32      = 0xDF
)

// LooksLegacy reports whether payload's leading byte falls in one of the
// reserved legacy map-header ranges, the auto-detection heuristic spec §9
// calls for when a transport can't surface the frame's VER bits.
func LooksLegacy(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	b := payload[0]
	return (b >= legacyFixmapBase && b <= legacyFixmapMax) || b == legacyMap16 || b == legacyMap32
}

// EncodeMessageLegacy serializes msg as a VER=0 map payload.
func EncodeMessageLegacy(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	m, err := messageToMap(msg)
	if err != nil {
		return nil, err
	}
	if err := writeMap(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessageLegacy parses a VER=0 map payload back into a Message.
func DecodeMessageLegacy(payload []byte) (Message, error) {
	c := newCursor(payload)
	m, err := readMap(c)
	if err != nil {
		return nil, err
	}
	return messageFromMap(m)
}

// DecodeMessageAuto decodes a payload whose encoding (positional or legacy
// map) is not otherwise known, using LooksLegacy to choose a decoder. When
// the frame's VER field is available, callers should prefer dispatching on
// it directly and fall back to this only for VER-less transports.
func DecodeMessageAuto(payload []byte) (Message, error) {
	if LooksLegacy(payload) {
		return DecodeMessageLegacy(payload)
	}
	return DecodeMessage(payload)
}

func writeMapHeader(buf *bytes.Buffer, n int) error {
	switch {
	case n <= 15:
		buf.WriteByte(byte(legacyFixmapBase + n))
	case n <= maxU16:
		buf.WriteByte(legacyMap16)
		writeU16(buf, uint16(n))
	default:
		return errOversizedPayload("legacy map exceeds 65535 entries")
	}
	return nil
}

func writeMap(buf *bytes.Buffer, m map[string]value.Value) error {
	if err := writeMapHeader(buf, len(m)); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeString(buf, k); err != nil {
			return err
		}
		if err := writeValue(buf, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (c *cursor) readMapHeader() (int, error) {
	b, err := c.u8()
	if err != nil {
		return 0, errTruncatedField("map header")
	}
	switch {
	case b >= legacyFixmapBase && b <= legacyFixmapMax:
		return int(b - legacyFixmapBase), nil
	case b == legacyMap16:
		n, err := c.u16()
		if err != nil {
			return 0, errTruncatedField("map16 count")
		}
		return int(n), nil
	case b == legacyMap32:
		n, err := c.u32()
		if err != nil {
			return 0, errTruncatedField("map32 count")
		}
		return int(n), nil
	default:
		return 0, errInvalidMagic()
	}
}

func readMap(c *cursor) (map[string]value.Value, error) {
	n, err := c.readMapHeader()
	if err != nil {
		return nil, err
	}
	m := make(map[string]value.Value, n)
	for i := 0; i < n; i++ {
		k, err := c.readString()
		if err != nil {
			return nil, err
		}
		v, err := c.readValue()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// messageToMap flattens msg's fields into a Value map keyed by field name,
// nesting sub-messages (BUNDLE) and descriptor lists (ANNOUNCE/RESULT,
// SNAPSHOT) as arrays of maps rather than re-invoking the positional codec.
func messageToMap(msg Message) (map[string]value.Value, error) {
	m := map[string]value.Value{"type": value.String(typeName(msg.Type()))}
	switch t := msg.(type) {
	case Hello:
		m["version"] = value.Int8(int8(t.Version))
		m["features"] = value.Int8(int8(t.Features))
		m["name"] = value.String(t.Name)
		m["token"] = value.String(t.Token)
	case Welcome:
		m["version"] = value.Int8(int8(t.Version))
		m["features"] = value.Int8(int8(t.Features))
		m["server_time"] = value.Int64(int64(t.ServerTime))
		m["session_id"] = value.String(t.SessionID)
		m["server_name"] = value.String(t.ServerName)
		m["token"] = value.String(t.Token)
	case Announce:
		m["namespace"] = value.String(t.Namespace)
		m["signals"] = signalDescriptorsToValue(t.Signals)
	case Subscribe:
		m["sub_id"] = value.Int64(int64(t.SubID))
		m["pattern"] = value.String(t.Pattern)
		m["kind_mask"] = value.Int8(int8(t.KindMask))
		if t.HasRate {
			m["max_rate"] = value.Int32(int32(t.MaxRate))
		}
		if t.HasEps {
			m["epsilon"] = value.Float32(t.Epsilon)
		}
		if t.HasHist {
			m["history"] = value.Int32(int32(t.History))
		}
	case Unsubscribe:
		m["sub_id"] = value.Int64(int64(t.SubID))
	case Publish:
		m["sig_kind"] = value.Int8(int8(t.SigKind))
		m["phase"] = value.Int8(int8(t.Phase))
		m["address"] = value.String(t.Address)
		if t.HasValue {
			m["value"] = t.Value
		}
		if t.HasTS {
			m["ts"] = value.Int64(int64(t.TS))
		}
		if t.HasID {
			m["gesture_id"] = value.Int64(int64(t.GestureID))
		}
	case Set:
		m["lock"] = value.Bool(t.Lock)
		m["unlock"] = value.Bool(t.Unlock)
		m["address"] = value.String(t.Address)
		m["value"] = t.Value
		if t.HasRev {
			m["revision"] = value.Int64(int64(t.Revision))
		}
	case Get:
		m["address"] = value.String(t.Address)
	case Snapshot:
		entries := make([]value.Value, len(t.Entries))
		for i, e := range t.Entries {
			entries[i] = value.Map(map[string]value.Value{
				"address":  value.String(e.Address),
				"value":    e.Value,
				"revision": value.Int64(int64(e.Revision)),
			})
		}
		m["entries"] = value.Array(entries)
	case Bundle:
		if t.HasTS {
			m["ts"] = value.Int64(int64(t.TS))
		}
		children := make([]value.Value, len(t.Messages))
		for i, child := range t.Messages {
			cm, err := messageToMap(child)
			if err != nil {
				return nil, err
			}
			children[i] = value.Map(cm)
		}
		m["messages"] = value.Array(children)
	case Sync:
		m["t1"] = value.Int64(int64(t.T1))
		if t.HasT2T3 {
			m["t2"] = value.Int64(int64(t.T2))
			m["t3"] = value.Int64(int64(t.T3))
		}
	case Ping, Pong:
	case Ack:
		m["correlation"] = value.Int64(int64(t.Correlation))
	case Error:
		m["code"] = value.Int32(int32(t.Code))
		m["message"] = value.String(t.Message)
		if t.HasAddress {
			m["address"] = value.String(t.Address)
		}
		if t.HasCorrelation {
			m["correlation"] = value.Int64(int64(t.Correlation))
		}
	case Query:
		m["pattern"] = value.String(t.Pattern)
	case Result:
		m["signals"] = signalDescriptorsToValue(t.Signals)
	default:
		return nil, errUnknownMessageType(byte(msg.Type()))
	}
	return m, nil
}

func signalDescriptorsToValue(sigs []SignalDescriptor) value.Value {
	out := make([]value.Value, len(sigs))
	for i, s := range sigs {
		sm := map[string]value.Value{
			"address":  value.String(s.Address),
			"kind":     value.Int8(int8(s.Kind)),
			"retained": value.Bool(s.Retained),
		}
		if s.HasRev {
			sm["revision"] = value.Int64(int64(s.Revision))
		}
		out[i] = value.Map(sm)
	}
	return value.Array(out)
}

func signalDescriptorsFromValue(v value.Value) ([]SignalDescriptor, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, errInvalidValueType(0)
	}
	out := make([]SignalDescriptor, len(arr))
	for i, e := range arr {
		m, ok := e.Map()
		if !ok {
			return nil, errInvalidValueType(0)
		}
		addr, _ := m["address"].String()
		kind, _ := m["kind"].Int64()
		retained, _ := m["retained"].Bool()
		rev, hasRev := m["revision"]
		sd := SignalDescriptor{Address: addr, Kind: SignalKind(kind), Retained: retained}
		if hasRev {
			r, _ := rev.Int64()
			sd.Revision = uint64(r)
			sd.HasRev = true
		}
		out[i] = sd
	}
	return out, nil
}

func typeName(t MsgType) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgWelcome:
		return "welcome"
	case MsgAnnounce:
		return "announce"
	case MsgSubscribe:
		return "subscribe"
	case MsgUnsubscribe:
		return "unsubscribe"
	case MsgPublish:
		return "publish"
	case MsgSet:
		return "set"
	case MsgGet:
		return "get"
	case MsgSnapshot:
		return "snapshot"
	case MsgBundle:
		return "bundle"
	case MsgSync:
		return "sync"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgAck:
		return "ack"
	case MsgError:
		return "error"
	case MsgQuery:
		return "query"
	case MsgResult:
		return "result"
	default:
		return "unknown"
	}
}

func messageFromMap(m map[string]value.Value) (Message, error) {
	typeVal, ok := m["type"]
	if !ok {
		return nil, errTruncatedField("legacy.type")
	}
	name, ok := typeVal.String()
	if !ok {
		return nil, errInvalidValueType(0)
	}

	str := func(k string) string { s, _ := m[k].String(); return s }
	i64 := func(k string) int64 { n, _ := m[k].Int64(); return n }
	b := func(k string) bool { v, _ := m[k].Bool(); return v }
	has := func(k string) bool { _, ok := m[k]; return ok }

	switch name {
	case "hello":
		return Hello{Version: uint8(i64("version")), Features: uint8(i64("features")), Name: str("name"), Token: str("token")}, nil
	case "welcome":
		return Welcome{
			Version: uint8(i64("version")), Features: uint8(i64("features")), ServerTime: uint64(i64("server_time")),
			SessionID: str("session_id"), ServerName: str("server_name"), Token: str("token"),
		}, nil
	case "announce":
		sigs, err := signalDescriptorsFromValue(m["signals"])
		if err != nil {
			return nil, err
		}
		return Announce{Namespace: str("namespace"), Signals: sigs}, nil
	case "subscribe":
		sub := Subscribe{SubID: uint32(i64("sub_id")), Pattern: str("pattern"), KindMask: uint8(i64("kind_mask"))}
		if has("max_rate") {
			sub.HasRate = true
			sub.MaxRate = uint16(i64("max_rate"))
		}
		if has("epsilon") {
			sub.HasEps = true
			f, _ := m["epsilon"].Float64()
			sub.Epsilon = float32(f)
		}
		if has("history") {
			sub.HasHist = true
			sub.History = uint16(i64("history"))
		}
		return sub, nil
	case "unsubscribe":
		return Unsubscribe{SubID: uint32(i64("sub_id"))}, nil
	case "publish":
		p := Publish{SigKind: SignalKind(i64("sig_kind")), Phase: GesturePhase(i64("phase")), Address: str("address")}
		if v, ok := m["value"]; ok {
			p.Value = v
			p.HasValue = !v.IsNull()
		}
		if has("ts") {
			p.HasTS = true
			p.TS = uint64(i64("ts"))
		}
		if has("gesture_id") {
			p.HasID = true
			p.GestureID = uint32(i64("gesture_id"))
		}
		return p, nil
	case "set":
		s := Set{Lock: b("lock"), Unlock: b("unlock"), Address: str("address"), Value: m["value"]}
		if has("revision") {
			s.HasRev = true
			s.Revision = uint64(i64("revision"))
		}
		return s, nil
	case "get":
		return Get{Address: str("address")}, nil
	case "snapshot":
		arr, _ := m["entries"].Array()
		entries := make([]SnapshotEntry, len(arr))
		for i, e := range arr {
			em, _ := e.Map()
			addr, _ := em["address"].String()
			rev, _ := em["revision"].Int64()
			entries[i] = SnapshotEntry{Address: addr, Value: em["value"], Revision: uint64(rev)}
		}
		return Snapshot{Entries: entries}, nil
	case "bundle":
		arr, _ := m["messages"].Array()
		children := make([]Message, len(arr))
		for i, e := range arr {
			cm, _ := e.Map()
			child, err := messageFromMap(cm)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		bd := Bundle{Messages: children}
		if has("ts") {
			bd.HasTS = true
			bd.TS = uint64(i64("ts"))
		}
		return bd, nil
	case "sync":
		sy := Sync{T1: uint64(i64("t1"))}
		if has("t2") && has("t3") {
			sy.HasT2T3 = true
			sy.T2 = uint64(i64("t2"))
			sy.T3 = uint64(i64("t3"))
		}
		return sy, nil
	case "ping":
		return Ping{}, nil
	case "pong":
		return Pong{}, nil
	case "ack":
		return Ack{Correlation: uint32(i64("correlation"))}, nil
	case "error":
		e := Error{Code: uint16(i64("code")), Message: str("message")}
		if has("address") {
			e.HasAddress = true
			e.Address = str("address")
		}
		if has("correlation") {
			e.HasCorrelation = true
			e.Correlation = uint32(i64("correlation"))
		}
		return e, nil
	case "query":
		return Query{Pattern: str("pattern")}, nil
	case "result":
		sigs, err := signalDescriptorsFromValue(m["signals"])
		if err != nil {
			return nil, err
		}
		return Result{Signals: sigs}, nil
	default:
		return nil, errUnknownMessageType(0)
	}
}
