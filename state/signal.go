package state

import (
	"sort"
	"sync"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/wire"
)

// SignalEntry is the lightweight bookkeeping record kept for non-Param
// signal kinds (SPEC_FULL.md §C.2): these are never retained in the Store's
// value table, but QUERY and TTL cleanup still need to know they exist.
type SignalEntry struct {
	Address    address.Address
	Kind       wire.SignalKind
	LastSeenUS uint64
}

// SignalTracker records ephemeral signal sightings for QUERY and stale-entry
// pruning. It is embedded in Store rather than duplicated per Router Core
// instance.
type SignalTracker struct {
	mu      sync.Mutex
	entries map[string]SignalEntry
}

func newSignalTracker() *SignalTracker {
	return &SignalTracker{entries: make(map[string]SignalEntry)}
}

// Observe records that addr carried a signal of kind at nowUS. Called from
// PUBLISH handling for every non-Param signal kind.
func (t *SignalTracker) Observe(addr address.Address, kind wire.SignalKind, nowUS uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[addr.String()] = SignalEntry{Address: addr, Kind: kind, LastSeenUS: nowUS}
}

// Matching returns every tracked signal entry whose address matches pattern.
func (t *SignalTracker) Matching(pattern address.Pattern) []SignalEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SignalEntry, 0)
	for _, e := range t.entries {
		if pattern.Match(e.Address) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// Prune removes entries whose LastSeenUS is older than ttlUS, sharing the
// State Store's param_ttl_us knob rather than introducing a separate one.
func (t *SignalTracker) Prune(nowUS, ttlUS uint64) (evicted int) {
	if ttlUS == 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if nowUS-e.LastSeenUS > ttlUS {
			delete(t.entries, k)
			evicted++
		}
	}
	return evicted
}

// Signals exposes the Store's SignalTracker so Router Core's PUBLISH
// handler can record sightings.
func (s *Store) Signals() *SignalTracker { return s.signals }
