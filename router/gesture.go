package router

import (
	"sync"

	"github.com/clasp-io/clasp/wire"
)

// gestureKey identifies one in-flight gesture (spec §3 "Gesture (in flight)").
type gestureKey struct {
	sessionID string
	gestureID uint32
}

// gestureState tracks one active gesture's coalescing window
// (SPEC_FULL.md §C.3): the first Move in a window is forwarded immediately,
// for low first-frame latency, so at most one Move is forwarded per window.
// Subsequent Moves within the same window overwrite a pending one; it is
// dropped when the window rolls over and forwarded only if the gesture ends
// while it is still buffered.
type gestureState struct {
	windowStartUS uint64
	flushedFirst  bool
	pending       *wire.Publish
}

type gestureTable struct {
	mu     sync.Mutex
	active map[gestureKey]*gestureState
}

func newGestureTable() *gestureTable {
	return &gestureTable{active: make(map[gestureKey]*gestureState)}
}

// admitMove decides what a Move-phase PUBLISH does to its coalescing window,
// returning every message that should now be forwarded, in order. If the
// window has just rolled over, any Move still buffered from the closed
// window is discarded and msg becomes the new window's leading Move, which
// is forwarded immediately; later Moves within the same window replace
// whatever is buffered and reach the caller only through end.
func (t *gestureTable) admitMove(key gestureKey, msg wire.Publish, nowUS, intervalUS uint64) []wire.Publish {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.active[key]
	if !exists {
		st = &gestureState{windowStartUS: nowUS}
		t.active[key] = st
	}

	var flushes []wire.Publish
	if nowUS-st.windowStartUS >= intervalUS {
		st.windowStartUS = nowUS
		st.flushedFirst = false
		st.pending = nil
	}

	if !st.flushedFirst {
		st.flushedFirst = true
		return append(flushes, msg)
	}
	m := msg
	st.pending = &m
	return flushes
}

// end frees a gesture's state on End/Cancel (spec §4.5 "After End or Cancel
// the gesture state is freed"), returning any still-buffered Move so
// callers can flush it before the End/Cancel frame.
func (t *gestureTable) end(key gestureKey) (wire.Publish, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.active[key]
	if !ok {
		delete(t.active, key)
		return wire.Publish{}, false
	}
	delete(t.active, key)
	if st.pending == nil {
		return wire.Publish{}, false
	}
	return *st.pending, true
}

// releaseSession frees every gesture belonging to sessionID (spec §4.5
// session-close cleanup: "releases its in-flight gestures").
func (t *gestureTable) releaseSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.active {
		if k.sessionID == sessionID {
			delete(t.active, k)
		}
	}
}
