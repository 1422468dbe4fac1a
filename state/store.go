package state

import (
	"sort"
	"sync"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/value"
)

// Store is the State Store (spec §4.3): one ParamState per address, guarded
// by a single mutex. Reads and the matching scan take the read lock;
// apply_set and cleanup_stale take the write lock.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*entryRec
	signals *SignalTracker
}

type entryRec struct {
	addr  address.Address
	state ParamState
}

// New builds an empty Store under cfg.
func New(cfg Config) *Store {
	return &Store{cfg: cfg, entries: make(map[string]*entryRec), signals: newSignalTracker()}
}

// Get returns addr's current ParamState and bumps last_accessed_us.
func (s *Store) Get(addr address.Address, nowUS uint64) (ParamState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[addr.String()]
	if !ok {
		return ParamState{}, false
	}
	e.state.LastAccessedUS = nowUS
	return e.state, true
}

// GetSnapshot reads addr's ParamState without updating last_accessed_us.
func (s *Store) GetSnapshot(addr address.Address) (ParamState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[addr.String()]
	if !ok {
		return ParamState{}, false
	}
	return e.state, true
}

// MatchedParam is one result row from GetMatching.
type MatchedParam struct {
	Address address.Address
	State   ParamState
}

// GetMatching returns every retained parameter whose address matches
// pattern, for SNAPSHOT handling (spec §4.3, §4.5).
func (s *Store) GetMatching(pattern address.Pattern) []MatchedParam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MatchedParam, 0)
	for _, e := range s.entries {
		if pattern.Match(e.addr) {
			out = append(out, MatchedParam{Address: e.addr, State: e.state})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// Count returns the number of retained parameters currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ApplySet performs apply_set (spec §4.3): lock check, optimistic
// concurrency check, conflict strategy resolution, and (on acceptance)
// revision bump.
func (s *Store) ApplySet(addr address.Address, req WriteRequest) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	e, exists := s.entries[key]

	if exists && e.state.Lock != "" && e.state.Lock != req.Writer {
		return Outcome{}, &RejectError{Reason: ReasonLocked, Holder: e.state.Lock}
	}

	if req.ExpectedRev != nil {
		current := uint64(0)
		if exists {
			current = e.state.Revision
		}
		if *req.ExpectedRev != current {
			return Outcome{}, &RejectError{Reason: ReasonStaleRevision, Current: current}
		}
	}

	meta := req.Meta
	if meta == nil && exists {
		meta = e.state.Meta
	}
	if err := validateMeta(meta, req.Value); err != nil {
		return Outcome{}, err
	}

	newValue := req.Value
	if exists {
		resolved, err := resolveConflict(req.Strategy, e.state, req)
		if err != nil {
			return Outcome{}, err
		}
		newValue = resolved
	}

	if !exists {
		if err := s.admitNewEntry(); err != nil {
			return Outcome{}, err
		}
		e = &entryRec{addr: addr}
		s.entries[key] = e
	}

	e.state.Value = newValue
	e.state.Revision++
	e.state.Writer = req.Writer
	e.state.TimestampUS = req.TimestampUS
	e.state.LastAccessedUS = req.TimestampUS
	if req.Meta != nil {
		e.state.Meta = req.Meta
	}
	if req.Strategy == StrategyLock && e.state.Lock == "" {
		e.state.Lock = req.Writer
	}
	if req.LockReq {
		e.state.Lock = req.Writer
	}
	if req.UnlockReq && e.state.Lock == req.Writer {
		e.state.Lock = ""
	}

	return Outcome{NewRevision: e.state.Revision}, nil
}

// ReleaseLocksHeldBy clears every lock held by writer, for session
// disconnect cleanup (spec §3 "Ownership & lifecycle": a session's locks
// are released when it disconnects).
func (s *Store) ReleaseLocksHeldBy(writer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.state.Lock == writer {
			e.state.Lock = ""
		}
	}
}

// admitNewEntry enforces max_params under RejectNew: a brand-new address is
// refused outright rather than evicting an existing one to make room. LRU
// and OldestFirst make room proactively during cleanup_stale instead.
func (s *Store) admitNewEntry() error {
	if s.cfg.MaxParams <= 0 || len(s.entries) < s.cfg.MaxParams {
		return nil
	}
	if s.cfg.Eviction == EvictRejectNew {
		return &RejectError{Reason: ReasonQuotaExceeded}
	}
	return nil
}

func resolveConflict(strategy Strategy, current ParamState, req WriteRequest) (value.Value, error) {
	switch strategy {
	case StrategyLWW:
		if req.TimestampUS > current.TimestampUS {
			return req.Value, nil
		}
		if req.TimestampUS == current.TimestampUS && req.Writer > current.Writer {
			return req.Value, nil
		}
		return value.Value{}, &RejectError{Reason: ReasonSuperseded}

	case StrategyMax, StrategyMin:
		incoming, ok := req.Value.AsF64()
		if !ok {
			return value.Value{}, &RejectError{Reason: ReasonTypeMismatch}
		}
		existing, ok := current.Value.AsF64()
		if !ok {
			return req.Value, nil
		}
		if strategy == StrategyMax && incoming > existing {
			return req.Value, nil
		}
		if strategy == StrategyMin && incoming < existing {
			return req.Value, nil
		}
		return value.Value{}, &RejectError{Reason: ReasonSuperseded}

	case StrategyLock:
		return req.Value, nil

	case StrategyMerge:
		return mergeValue(current.Value, req.Value), nil

	default:
		return req.Value, nil
	}
}

// mergeValue deep-merges incoming into current for map/array containers;
// anything else falls back to last-writer-wins (incoming replaces current).
func mergeValue(current, incoming value.Value) value.Value {
	if current.Kind() == value.KindMap && incoming.Kind() == value.KindMap {
		cm, _ := current.Map()
		im, _ := incoming.Map()
		merged := make(map[string]value.Value, len(cm)+len(im))
		for k, v := range cm {
			merged[k] = v
		}
		for k, v := range im {
			if existing, ok := merged[k]; ok {
				merged[k] = mergeValue(existing, v)
			} else {
				merged[k] = v
			}
		}
		return value.Map(merged)
	}
	if current.Kind() == value.KindArray && incoming.Kind() == value.KindArray {
		ca, _ := current.Array()
		ia, _ := incoming.Array()
		out := make([]value.Value, 0, len(ca)+len(ia))
		out = append(out, ca...)
		out = append(out, ia...)
		return value.Array(out)
	}
	return incoming
}

// CleanupStale enforces param_ttl_us and max_params (spec §4.3). Locked
// entries are never evicted, regardless of age or eviction policy.
func (s *Store) CleanupStale(nowUS uint64) (evicted int) {
	evicted += s.signals.Prune(nowUS, s.cfg.ParamTTLUS)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ParamTTLUS > 0 {
		for k, e := range s.entries {
			if e.state.Locked() {
				continue
			}
			if nowUS-e.state.LastAccessedUS > s.cfg.ParamTTLUS {
				delete(s.entries, k)
				evicted++
			}
		}
	}

	if s.cfg.MaxParams <= 0 || len(s.entries) <= s.cfg.MaxParams || s.cfg.Eviction == EvictRejectNew {
		return evicted
	}

	type candidate struct {
		key   string
		order uint64
	}
	cands := make([]candidate, 0, len(s.entries))
	for k, e := range s.entries {
		if e.state.Locked() {
			continue
		}
		order := e.state.LastAccessedUS
		if s.cfg.Eviction == EvictOldestFirst {
			order = e.state.TimestampUS
		}
		cands = append(cands, candidate{key: k, order: order})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].order < cands[j].order })

	excess := len(s.entries) - s.cfg.MaxParams
	for i := 0; i < excess && i < len(cands); i++ {
		delete(s.entries, cands[i].key)
		evicted++
	}
	return evicted
}
