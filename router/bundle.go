package router

import (
	"container/heap"
	"sync"

	"github.com/clasp-io/clasp/wire"
)

// scheduledBundle is one entry in the bundle scheduler's min-heap (spec
// §4.5 "Bundle scheduling").
type scheduledBundle struct {
	deadlineUS uint64
	sessionID  string
	bundle     wire.Bundle
	index      int // heap.Interface bookkeeping
}

type bundleHeap []*scheduledBundle

func (h bundleHeap) Len() int            { return len(h) }
func (h bundleHeap) Less(i, j int) bool  { return h[i].deadlineUS < h[j].deadlineUS }
func (h bundleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *bundleHeap) Push(x any) {
	sb := x.(*scheduledBundle)
	sb.index = len(*h)
	*h = append(*h, sb)
}
func (h *bundleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// bundleScheduler holds bundles with a future timestamp until their
// deadline (spec §4.5). A dedicated caller (Router.RunScheduler) drains due
// entries; tolerance is whatever that caller's polling interval is (spec
// default ≤1ms).
type bundleScheduler struct {
	mu sync.Mutex
	h  bundleHeap
}

func newBundleScheduler() *bundleScheduler {
	s := &bundleScheduler{}
	heap.Init(&s.h)
	return s
}

func (s *bundleScheduler) schedule(sessionID string, deadlineUS uint64, b wire.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.h, &scheduledBundle{deadlineUS: deadlineUS, sessionID: sessionID, bundle: b})
}

// due pops and returns every bundle whose deadline is <= nowUS, earliest
// first.
func (s *bundleScheduler) due(nowUS uint64) []*scheduledBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scheduledBundle
	for s.h.Len() > 0 && s.h[0].deadlineUS <= nowUS {
		out = append(out, heap.Pop(&s.h).(*scheduledBundle))
	}
	return out
}

// cancelSession removes every scheduled bundle owned by sessionID (spec
// §4.5: "cancelled when their owning session disconnects").
func (s *bundleScheduler) cancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := make(bundleHeap, 0, s.h.Len())
	for _, sb := range s.h {
		if sb.sessionID != sessionID {
			remaining = append(remaining, sb)
		}
	}
	s.h = remaining
	heap.Init(&s.h)
}

// nextDeadline reports the earliest pending deadline, if any.
func (s *bundleScheduler) nextDeadline() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return 0, false
	}
	return s.h[0].deadlineUS, true
}
