package router

import "sync/atomic"

// Admin is a read-only introspection surface over a Router (SPEC_FULL.md
// §B.1), intended for a host process's own diagnostics endpoint rather than
// for any CLASP wire message.
type Admin struct {
	r *Router
}

// NewAdmin wraps r for introspection.
func NewAdmin(r *Router) Admin { return Admin{r: r} }

// SessionCount returns the number of currently connected sessions.
func (a Admin) SessionCount() int {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	return len(a.r.sessions)
}

// SubscriptionCount returns how many subscriptions sessionID currently
// holds.
func (a Admin) SubscriptionCount(sessionID string) int {
	return a.r.subs.Count(sessionID)
}

// ParamCount returns how many retained parameters the State Store holds.
func (a Admin) ParamCount() int {
	return a.r.store.Count()
}

// RateLimitDrops returns the cumulative count of messages rejected by the
// per-session rate limiter across every session this Router has handled.
func (a Admin) RateLimitDrops() uint64 {
	return atomic.LoadUint64(&a.r.rateLimitDrops)
}

// SessionIDs returns a snapshot of every currently connected session ID.
func (a Admin) SessionIDs() []string {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	ids := make([]string, 0, len(a.r.sessions))
	for id := range a.r.sessions {
		ids = append(ids, id)
	}
	return ids
}
