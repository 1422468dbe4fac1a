package router

import (
	"sync"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/wire"
)

// SessionState is the session lifecycle state machine (spec §4.5).
type SessionState uint8

const (
	StateAwaitHello SessionState = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

// Transport is the byte-stream collaborator a Session is driven over (spec
// §6): the router never implements one itself.
type Transport interface {
	RecvFrame() (wire.Frame, error)
	SendFrame(wire.Frame) error
	Close() error
}

// Session is one authenticated connection (spec §3).
type Session struct {
	ID     string
	Name   string
	mu     sync.Mutex
	state  SessionState
	Scopes address.ScopeSet

	transport Transport
	outbox    chan wire.Frame

	rateLimiter *TokenBucket

	lastActivityUS uint64
	lastRateWarnUS uint64

	gestures *gestureTable

	overflows int
}

// overflowDisconnectThreshold is how many consecutive Confirm/Commit drops
// (spec §5: "persistent" overflow) disconnect the session rather than merely
// rate-limiting the producer. The disconnect sends no Overflow ERROR frame
// to the session first.
const overflowDisconnectThreshold = 10

func newSession(id string, transport Transport, outboxCap int, hz uint32) *Session {
	return &Session{
		ID:          id,
		state:       StateAwaitHello,
		transport:   transport,
		outbox:      make(chan wire.Frame, outboxCap),
		rateLimiter: NewTokenBucket(hz),
		gestures:    newGestureTable(),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// shouldWarnRateLimit reports whether a rate-limit warning may be logged
// now, rate-limiting the warning itself to once per second per session
// (spec §4.5).
func (s *Session) shouldWarnRateLimit(nowUS uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nowUS-s.lastRateWarnUS < uint64(warnEvery.Microseconds()) {
		return false
	}
	s.lastRateWarnUS = nowUS
	return true
}

// Enqueue places f on the session's outbox. When full, Fire-QoS frames are
// silently dropped; Confirm/Commit frames are also dropped (the core never
// blocks a fanout on a slow subscriber) but count toward a persistent
// overflow that the caller should use to disconnect the session (spec §5
// "Backpressure").
func (s *Session) Enqueue(f wire.Frame) (dropped, persistent bool) {
	select {
	case s.outbox <- f:
		s.mu.Lock()
		s.overflows = 0
		s.mu.Unlock()
		return false, false
	default:
	}
	if f.QoS == wire.Fire {
		return true, false
	}
	s.mu.Lock()
	s.overflows++
	persistent = s.overflows >= overflowDisconnectThreshold
	s.mu.Unlock()
	return true, persistent
}
