// Package subscription implements CLASP's Subscription Index (spec §4.4): a
// two-level structure mapping (pattern, filter) registrations to the
// session set a published signal must fan out to.
package subscription

import (
	"strings"
	"sync"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/wire"
)

// Subscription is one session's standing interest in a pattern (spec §3).
type Subscription struct {
	ID        uint32
	SessionID string
	Pattern   address.Pattern
	KindMask  uint8
	RateMax   uint16
	HasRate   bool
	Epsilon   float32
	HasEps    bool
	History   uint16
}

// matchesKind reports whether sig is selected by the subscription's kind
// mask (spec §6 kind-mask bit layout, wire.KindBit).
func (s *Subscription) matchesKind(sig wire.SignalKind) bool {
	bit := kindBitFor(sig)
	return s.KindMask&byte(bit) != 0
}

func kindBitFor(sig wire.SignalKind) wire.KindBit {
	switch sig {
	case wire.SigKindParamEvent:
		return wire.BitParam
	case wire.SigKindEvent:
		return wire.BitEvent
	case wire.SigKindStream:
		return wire.BitStream
	case wire.SigKindGesture:
		return wire.BitGesture
	case wire.SigKindTimeline:
		return wire.BitTimeline
	default:
		return 0
	}
}

// QuotaExceededError is returned by Add when a session is already at its
// subscription cap.
type QuotaExceededError struct {
	SessionID string
	Max       int
}

func (e *QuotaExceededError) Error() string {
	return "subscription: session " + e.SessionID + " at cap"
}

// Index is the Subscription Index. Safe for concurrent use.
type Index struct {
	mu            sync.RWMutex
	buckets       map[string][]*Subscription // keyed by pattern's literal prefix
	bySession     map[string]map[uint32]*Subscription
	maxPerSession int
}

// New builds an empty Index. maxPerSession <= 0 means unbounded.
func New(maxPerSession int) *Index {
	return &Index{
		buckets:       make(map[string][]*Subscription),
		bySession:     make(map[string]map[uint32]*Subscription),
		maxPerSession: maxPerSession,
	}
}

// Add registers a subscription, enforcing the per-session cap.
func (idx *Index) Add(sub *Subscription) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing := idx.bySession[sub.SessionID]
	if idx.maxPerSession > 0 && len(existing) >= idx.maxPerSession {
		return &QuotaExceededError{SessionID: sub.SessionID, Max: idx.maxPerSession}
	}

	key := sub.Pattern.LiteralPrefix()
	idx.buckets[key] = append(idx.buckets[key], sub)

	if existing == nil {
		existing = make(map[uint32]*Subscription)
		idx.bySession[sub.SessionID] = existing
	}
	existing[sub.ID] = sub
	return nil
}

// Remove drops one subscription from both the prefix bucket and the
// session's bookkeeping. Empty buckets are deleted.
func (idx *Index) Remove(sessionID string, subID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(sessionID, subID)
}

func (idx *Index) removeLocked(sessionID string, subID uint32) {
	subs, ok := idx.bySession[sessionID]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(idx.bySession, sessionID)
	}

	key := sub.Pattern.LiteralPrefix()
	bucket := idx.buckets[key]
	for i, s := range bucket {
		if s == sub {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(idx.buckets, key)
	} else {
		idx.buckets[key] = bucket
	}
}

// RemoveSession removes every subscription owned by sessionID.
func (idx *Index) RemoveSession(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	subs := idx.bySession[sessionID]
	ids := make([]uint32, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	for _, id := range ids {
		idx.removeLocked(sessionID, id)
	}
}

// Count returns how many subscriptions sessionID currently holds.
func (idx *Index) Count(sessionID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.bySession[sessionID])
}

// Fanout returns every subscription whose pattern matches addr and whose
// kind mask selects sig. Only buckets keyed by a literal prefix of addr (or
// the empty catch-all prefix) are scanned, bounding the work to candidates
// that could plausibly match (spec §4.4 complexity target).
func (idx *Index) Fanout(addr address.Address, sig wire.SignalKind) []*Subscription {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*Subscription, 0)
	for _, prefix := range addressPrefixes(addr) {
		for _, sub := range idx.buckets[prefix] {
			if sub.matchesKind(sig) && sub.Pattern.Match(addr) {
				out = append(out, sub)
			}
		}
	}
	return out
}

// addressPrefixes returns every "/"-joined leading-segment prefix of addr,
// from the empty catch-all ("") through the full address, matching the set
// of literal-prefix bucket keys a subscription covering addr could use.
func addressPrefixes(addr address.Address) []string {
	segs := addr.Segments()
	out := make([]string, 0, len(segs)+1)
	out = append(out, "")
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(s)
		out = append(out, b.String())
	}
	return out
}
