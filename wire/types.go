package wire

// MsgType identifies a message variant's wire code (spec §4.2 message
// table). New message types must never be allocated in the legacy-map
// detection ranges 0x80..0x8F, 0xDE, or 0xDF (spec §9).
type MsgType uint8

const (
	MsgHello        MsgType = 0x01
	MsgWelcome      MsgType = 0x02
	MsgAnnounce     MsgType = 0x03
	MsgSubscribe    MsgType = 0x10
	MsgUnsubscribe  MsgType = 0x11
	MsgPublish      MsgType = 0x20
	MsgSet          MsgType = 0x21
	MsgGet          MsgType = 0x22
	MsgSnapshot     MsgType = 0x23
	MsgBundle       MsgType = 0x30
	MsgSync         MsgType = 0x40
	MsgPing         MsgType = 0x41
	MsgPong         MsgType = 0x42
	MsgAck          MsgType = 0x50
	MsgError        MsgType = 0x51
	MsgQuery        MsgType = 0x60
	MsgResult       MsgType = 0x61
)

// QoS is the delivery semantics level attached to a frame (spec §3, §4.2).
type QoS uint8

const (
	Fire QoS = iota
	Confirm
	Commit
)

// SignalKind is one of the five signal kinds (spec §3). The numeric values
// match the PUBLISH sig_kind wire codes (spec §6): 0 is the rare
// "Param-as-event" case, not Param's retained form — retained Param writes
// travel as SET, never as a PUBLISH with SigKindParamEvent.
type SignalKind uint8

const (
	SigKindParamEvent SignalKind = iota
	SigKindEvent
	SigKindStream
	SigKindGesture
	SigKindTimeline
)

// String renders the kind for logs.
func (k SignalKind) String() string {
	switch k {
	case SigKindParamEvent:
		return "param-event"
	case SigKindEvent:
		return "event"
	case SigKindStream:
		return "stream"
	case SigKindGesture:
		return "gesture"
	case SigKindTimeline:
		return "timeline"
	default:
		return "unknown"
	}
}

// KindBit is the feature/kind-mask bit layout shared by HELLO/WELCOME
// feature bitmasks and SUBSCRIBE kind-masks (spec §6: "bit 7 = Param, 6 =
// Event, 5 = Stream, 4 = Gesture, 3 = Timeline"; the spec leaves the
// SUBSCRIBE kind-mask's bit layout unstated, so this implementation reuses
// the HELLO/WELCOME layout for both — see DESIGN.md).
type KindBit uint8

const (
	BitParam    KindBit = 1 << 7
	BitEvent    KindBit = 1 << 6
	BitStream   KindBit = 1 << 5
	BitGesture  KindBit = 1 << 4
	BitTimeline KindBit = 1 << 3
)

// GesturePhase is the PUBLISH phase code for gesture signals (spec §6).
type GesturePhase uint8

const (
	PhaseStart GesturePhase = iota
	PhaseMove
	PhaseEnd
	PhaseCancel
)

// String renders the phase for logs.
func (p GesturePhase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	case PhaseCancel:
		return "cancel"
	default:
		return "unknown"
	}
}
