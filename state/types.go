package state

import "github.com/clasp-io/clasp/value"

// ParamState is one retained parameter's full bookkeeping record (spec §3).
type ParamState struct {
	Value          value.Value
	Revision       uint64
	Writer         string
	TimestampUS    uint64
	LastAccessedUS uint64
	Lock           string // "" means unlocked; otherwise the holding session id
	Meta           *value.Value
}

// Locked reports whether the entry is currently held by any session.
func (p ParamState) Locked() bool { return p.Lock != "" }

// Strategy is apply_set's conflict-resolution mode (spec §4.3).
type Strategy uint8

const (
	StrategyLWW Strategy = iota
	StrategyMax
	StrategyMin
	StrategyLock
	StrategyMerge
)

// String renders the strategy for logs and config parsing errors.
func (s Strategy) String() string {
	switch s {
	case StrategyLWW:
		return "lww"
	case StrategyMax:
		return "max"
	case StrategyMin:
		return "min"
	case StrategyLock:
		return "lock"
	case StrategyMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a config/wire strategy name.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "lww":
		return StrategyLWW, true
	case "max":
		return StrategyMax, true
	case "min":
		return StrategyMin, true
	case "lock":
		return StrategyLock, true
	case "merge":
		return StrategyMerge, true
	default:
		return 0, false
	}
}

// EvictionStrategy is cleanup_stale's over-capacity policy (spec §4.3).
type EvictionStrategy uint8

const (
	EvictLRU EvictionStrategy = iota
	EvictOldestFirst
	EvictRejectNew
)

// Config bounds a Store's size (spec §4.3 invariant 2, §6 configuration).
type Config struct {
	MaxParams  int
	ParamTTLUS uint64
	Eviction   EvictionStrategy
}

// Outcome is apply_set's success result.
type Outcome struct {
	NewRevision uint64
}

// WriteRequest bundles apply_set's parameters (spec §4.3).
type WriteRequest struct {
	Value       value.Value
	Writer      string
	Strategy    Strategy
	ExpectedRev *uint64
	LockReq     bool
	UnlockReq   bool
	TimestampUS uint64
	Meta        *value.Value
}
