package wire

import "github.com/clasp-io/clasp/value"

// Message is implemented by every concrete message variant. Type returns the
// variant's wire code so the codec and the router can dispatch on it
// without a type switch at every call site.
type Message interface {
	Type() MsgType
}

// SignalDescriptor describes one signal for ANNOUNCE/RESULT (spec §4.2,
// SPEC_FULL.md §C.1). Revision is only meaningful for retained kinds.
type SignalDescriptor struct {
	Address  string
	Kind     SignalKind
	Retained bool
	Revision uint64
	HasRev   bool
}

type Hello struct {
	Version  uint8
	Features uint8
	Name     string
	Token    string
}

func (Hello) Type() MsgType { return MsgHello }

type Welcome struct {
	Version    uint8
	Features   uint8
	ServerTime uint64
	SessionID  string
	ServerName string
	Token      string
}

func (Welcome) Type() MsgType { return MsgWelcome }

type Announce struct {
	Namespace string
	Signals   []SignalDescriptor
}

func (Announce) Type() MsgType { return MsgAnnounce }

type Subscribe struct {
	SubID    uint32
	Pattern  string
	KindMask uint8
	OptFlags uint8
	MaxRate  uint16
	HasRate  bool
	Epsilon  float32
	HasEps   bool
	History  uint16
	HasHist  bool
}

func (Subscribe) Type() MsgType { return MsgSubscribe }

type Unsubscribe struct {
	SubID uint32
}

func (Unsubscribe) Type() MsgType { return MsgUnsubscribe }

type Publish struct {
	SigKind   SignalKind
	Phase     GesturePhase
	Address   string
	HasValue  bool
	Value     value.Value
	HasTS     bool
	TS        uint64
	HasID     bool
	GestureID uint32
}

func (Publish) Type() MsgType { return MsgPublish }

type Set struct {
	HasRev  bool
	Lock    bool
	Unlock  bool
	Address string
	Value   value.Value
	Revision uint64
}

func (Set) Type() MsgType { return MsgSet }

type Get struct {
	Address string
}

func (Get) Type() MsgType { return MsgGet }

type SnapshotEntry struct {
	Address  string
	Value    value.Value
	Revision uint64
}

type Snapshot struct {
	Entries []SnapshotEntry
}

func (Snapshot) Type() MsgType { return MsgSnapshot }

type Bundle struct {
	HasTS    bool
	TS       uint64
	Messages []Message
}

func (Bundle) Type() MsgType { return MsgBundle }

type Sync struct {
	T1      uint64
	HasT2T3 bool
	T2      uint64
	T3      uint64
}

func (Sync) Type() MsgType { return MsgSync }

type Ping struct{}

func (Ping) Type() MsgType { return MsgPing }

type Pong struct{}

func (Pong) Type() MsgType { return MsgPong }

type Ack struct {
	Correlation uint32
}

func (Ack) Type() MsgType { return MsgAck }

type Error struct {
	Code           uint16
	Message        string
	Address        string
	HasAddress     bool
	Correlation    uint32
	HasCorrelation bool
}

func (Error) Type() MsgType { return MsgError }

type Query struct {
	Pattern string
}

func (Query) Type() MsgType { return MsgQuery }

type Result struct {
	Signals []SignalDescriptor
}

func (Result) Type() MsgType { return MsgResult }
