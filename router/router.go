package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/auth"
	"github.com/clasp-io/clasp/internal/cluster"
	"github.com/clasp-io/clasp/internal/telemetry"
	"github.com/clasp-io/clasp/state"
	"github.com/clasp-io/clasp/subscription"
	"github.com/clasp-io/clasp/wire"
)

// maxSnapshotChunkBytes bounds a single SNAPSHOT frame (spec §4.5 "chunked
// so no single frame exceeds 60 KiB").
const maxSnapshotChunkBytes = 60 * 1024

// Router is the Router Core (spec §4.5): owns the State Store and
// Subscription Index, drives session lifecycle, and dispatches every
// message type to its handling contract.
type Router struct {
	cfg   Config
	store *state.Store
	subs  *subscription.Index
	auth  auth.Validator

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu       sync.RWMutex
	sessions map[string]*Session

	scheduler *bundleScheduler

	cluster *cluster.Directory

	rateLimitDrops uint64
}

// Option configures optional Router collaborators.
type Option func(*Router)

// WithAuth installs a token validator. Without one, HELLO tokens are
// accepted in every security mode except SecurityTokened.
func WithAuth(v auth.Validator) Option { return func(r *Router) { r.auth = v } }

// WithTelemetry installs a Logger/Metrics/Tracer triple. Unset components
// default to no-ops.
func WithTelemetry(l telemetry.Logger, m telemetry.Metrics, t telemetry.Tracer) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
		if m != nil {
			r.metrics = m
		}
		if t != nil {
			r.tracer = t
		}
	}
}

// New builds a Router over cfg.
func New(cfg Config, opts ...Option) *Router {
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:       cfg,
		store:     state.New(cfg.stateConfig()),
		subs:      subscription.New(cfg.MaxSubscriptionsPerSession),
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
		tracer:    telemetry.NewNoopTracer(),
		sessions:  make(map[string]*Session),
		scheduler: newBundleScheduler(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect allocates a new Session in AwaitHello state (spec §4.5 "On
// transport connect"). The caller drives it with HandleFrame / HandleHello.
func (r *Router) Connect(transport Transport) *Session {
	id := uuid.New().String()
	hz := uint32(0)
	if r.cfg.RateLimitingEnabled {
		hz = r.cfg.MaxMessagesPerSecond
	}
	sess := newSession(id, transport, r.cfg.OutboxCapacity, hz)

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.metrics.IncCounter("clasp.sessions.connected", 1)
	if r.cluster != nil {
		_ = r.cluster.RegisterSession(context.Background(), cluster.RosterEntry{SessionID: id})
	}
	return sess
}

// Disconnect tears a session down (spec §4.5 "On Closing..."; §8 invariant
// "no subscription, lock, pending gesture, or scheduled bundle attributable
// to that session remains").
func (r *Router) Disconnect(sess *Session) {
	sess.setState(StateClosing)

	r.subs.RemoveSession(sess.ID)
	r.scheduler.cancelSession(sess.ID)
	sess.gestures.releaseSession(sess.ID)
	r.store.ReleaseLocksHeldBy(sess.ID)
	if r.cluster != nil {
		_ = r.cluster.UnregisterSession(context.Background(), sess.ID)
	}

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	_ = sess.transport.Close()
	sess.setState(StateClosed)
	r.metrics.IncCounter("clasp.sessions.disconnected", 1)
}

// HandleHello processes the handshake (spec §4.5). On success it returns a
// Welcome to send and moves the session to Active; on failure it returns an
// error the caller should render as ERROR and then Disconnect.
func (r *Router) HandleHello(sess *Session, msg wire.Hello, nowUS uint64) (wire.Welcome, error) {
	var scopes address.ScopeSet
	switch r.cfg.SecurityMode {
	case SecurityTokened:
		if r.auth == nil || msg.Token == "" {
			return wire.Welcome{}, &HandlerError{Code: CodePermissionDenied, Message: "token required"}
		}
		claims, err := r.auth.Validate(msg.Token)
		if err != nil {
			return wire.Welcome{}, &HandlerError{Code: CodePermissionDenied, Message: "invalid token"}
		}
		scopes = claims.Scopes
	default:
		scopes = address.NewScopeSet(address.Open)
		if r.auth != nil && msg.Token != "" {
			if claims, err := r.auth.Validate(msg.Token); err == nil {
				scopes = claims.Scopes
			}
		}
	}

	sess.mu.Lock()
	sess.Name = msg.Name
	sess.Scopes = scopes
	sess.lastActivityUS = nowUS
	sess.mu.Unlock()
	sess.setState(StateActive)

	return wire.Welcome{
		Version: 1, Features: msg.Features, ServerTime: nowUS,
		SessionID: sess.ID, ServerName: "claspd",
	}, nil
}

// HandleMessage dispatches one post-handshake message per spec §4.5's
// handling contracts. It returns direct responses to send back to sess;
// fanout to other sessions is performed as a side effect via Session.Enqueue.
func (r *Router) HandleMessage(sess *Session, msg wire.Message, nowUS uint64) ([]wire.Message, error) {
	sess.mu.Lock()
	sess.lastActivityUS = nowUS
	sess.mu.Unlock()

	if isRateLimited(msg) && !sess.rateLimiter.Allow() {
		atomic.AddUint64(&r.rateLimitDrops, 1)
		r.metrics.IncCounter("clasp.ratelimit.dropped", 1)
		if sess.shouldWarnRateLimit(nowUS) {
			r.logger.Warn(context.Background(), "session rate limited", "session", sess.ID)
		}
		return nil, &HandlerError{Code: CodeRateLimited, Message: "rate limited"}
	}

	switch m := msg.(type) {
	case wire.Subscribe:
		return r.handleSubscribe(sess, m, nowUS)
	case wire.Unsubscribe:
		r.subs.Remove(sess.ID, m.SubID)
		return nil, nil
	case wire.Set:
		return r.handleSet(sess, m, nowUS)
	case wire.Publish:
		return r.handlePublish(sess, m, nowUS)
	case wire.Get:
		return r.handleGet(sess, m)
	case wire.Bundle:
		return r.handleBundle(sess, m, nowUS)
	case wire.Sync:
		return []wire.Message{wire.Sync{T1: m.T1, HasT2T3: true, T2: nowUS, T3: nowUS}}, nil
	case wire.Ping:
		return []wire.Message{wire.Pong{}}, nil
	case wire.Query:
		return r.handleQuery(m)
	default:
		return nil, errInternal(fmt.Sprintf("unhandled message type %T", msg))
	}
}

// isRateLimited reports whether msg's type is subject to the per-session
// rate limiter: only producer traffic that causes fanout work (spec §4.5
// "Rate limiting" governs PUBLISH/SET/BUNDLE volume, not control messages).
func isRateLimited(msg wire.Message) bool {
	switch msg.(type) {
	case wire.Publish, wire.Set, wire.Bundle:
		return true
	default:
		return false
	}
}

func (r *Router) checkScope(sess *Session, action address.Action, addrStr string) (address.Address, error) {
	addr, err := address.Parse(addrStr)
	if err != nil {
		return address.Address{}, errInvalidAddress(err.Error())
	}
	if !sess.Scopes.Allows(action, addr) {
		return address.Address{}, errPermissionDenied(addrStr)
	}
	return addr, nil
}

func (r *Router) handleSubscribe(sess *Session, m wire.Subscribe, nowUS uint64) ([]wire.Message, error) {
	_, span := r.tracer.Start(context.Background(), "clasp.subscribe")
	defer span.End()

	pattern, err := address.ParsePattern(m.Pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errInvalidAddress(err.Error())
	}
	// Scope check: a pattern is allowed for read if its literal prefix (or
	// itself, if fully literal) is covered; this implementation checks the
	// pattern's longest literal prefix as a concrete address stand-in.
	prefix := pattern.LiteralPrefix()
	if prefix == "" {
		prefix = "/"
	}
	if probeAddr, err := address.Parse(prefix); err == nil {
		if !sess.Scopes.Allows(address.Read, probeAddr) {
			err := errPermissionDenied(m.Pattern)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	sub := &subscription.Subscription{
		ID: m.SubID, SessionID: sess.ID, Pattern: pattern, KindMask: m.KindMask,
		RateMax: m.MaxRate, HasRate: m.HasRate, Epsilon: m.Epsilon, HasEps: m.HasEps, History: m.History,
	}
	if err := r.subs.Add(sub); err != nil {
		err := errQuotaExceeded(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches := r.store.GetMatching(pattern)
	return chunkSnapshots(matches), nil
}

func chunkSnapshots(matches []state.MatchedParam) []wire.Message {
	var out []wire.Message
	var chunk []wire.SnapshotEntry
	size := 0
	flush := func() {
		if len(chunk) > 0 {
			out = append(out, wire.Snapshot{Entries: chunk})
			chunk = nil
			size = 0
		}
	}
	for _, m := range matches {
		entry := wire.SnapshotEntry{Address: m.Address.String(), Value: m.State.Value, Revision: m.State.Revision}
		encoded, err := wire.EncodeMessage(wire.Snapshot{Entries: []wire.SnapshotEntry{entry}})
		entrySize := 16
		if err == nil {
			entrySize = len(encoded)
		}
		if size+entrySize > maxSnapshotChunkBytes && len(chunk) > 0 {
			flush()
		}
		chunk = append(chunk, entry)
		size += entrySize
	}
	flush()
	if len(out) == 0 {
		out = append(out, wire.Snapshot{Entries: []wire.SnapshotEntry{}})
	}
	return out
}

func (r *Router) handleSet(sess *Session, m wire.Set, nowUS uint64) ([]wire.Message, error) {
	_, span := r.tracer.Start(context.Background(), "clasp.set")
	defer span.End()

	addr, err := r.checkScope(sess, address.Write, m.Address)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	strategy, _ := state.ParseStrategy(r.cfg.DefaultStrategy)
	req := state.WriteRequest{
		Value: m.Value, Writer: sess.ID, TimestampUS: nowUS,
		LockReq: m.Lock, UnlockReq: m.Unlock, Strategy: strategy,
	}
	if m.HasRev {
		rev := m.Revision
		req.ExpectedRev = &rev
	}

	out, err := r.store.ApplySet(addr, req)
	if err != nil {
		herr := r.toHandlerError(err, m.Address)
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		return nil, herr
	}

	fanoutMsg := wire.Set{Address: m.Address, Value: m.Value, HasRev: true, Revision: out.NewRevision}
	r.fanout(addr, wire.SigKindParamEvent, fanoutMsg, wire.Confirm)

	return []wire.Message{wire.Ack{}}, nil
}

func (r *Router) handlePublish(sess *Session, m wire.Publish, nowUS uint64) ([]wire.Message, error) {
	_, span := r.tracer.Start(context.Background(), "clasp.publish")
	defer span.End()

	addr, err := r.checkScope(sess, address.Write, m.Address)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if m.SigKind != wire.SigKindParamEvent {
		r.store.Signals().Observe(addr, m.SigKind, nowUS)
	}

	qos := defaultQoS(m.SigKind)

	if m.SigKind == wire.SigKindGesture && r.cfg.GestureCoalescing {
		r.dispatchGesture(sess, addr, m, nowUS, qos)
		return nil, nil
	}

	r.fanout(addr, m.SigKind, m, qos)
	return nil, nil
}

// defaultQoS maps a signal kind to its default delivery semantics (spec §3:
// "Param (retained, Confirm), Event (ephemeral, Confirm), Stream (ephemeral,
// Fire), Gesture (ephemeral phased, Fire), Timeline (retained, Commit)").
func defaultQoS(kind wire.SignalKind) wire.QoS {
	switch kind {
	case wire.SigKindParamEvent, wire.SigKindEvent:
		return wire.Confirm
	case wire.SigKindTimeline:
		return wire.Commit
	default:
		return wire.Fire
	}
}

func (r *Router) dispatchGesture(sess *Session, addr address.Address, m wire.Publish, nowUS uint64, qos wire.QoS) {
	key := gestureKey{sessionID: sess.ID, gestureID: m.GestureID}
	switch m.Phase {
	case wire.PhaseStart:
		r.fanout(addr, m.SigKind, m, qos)
	case wire.PhaseMove:
		for _, flush := range sess.gestures.admitMove(key, m, nowUS, r.cfg.GestureCoalesceIntervalUS) {
			r.fanout(addr, m.SigKind, flush, qos)
		}
	case wire.PhaseEnd, wire.PhaseCancel:
		if pending, ok := sess.gestures.end(key); ok {
			r.fanout(addr, m.SigKind, pending, qos)
		}
		r.fanout(addr, m.SigKind, m, qos)
	}
}

func (r *Router) handleGet(sess *Session, m wire.Get) ([]wire.Message, error) {
	addr, err := r.checkScope(sess, address.Read, m.Address)
	if err != nil {
		return nil, err
	}
	ps, ok := r.store.GetSnapshot(addr)
	if !ok {
		return nil, errNotFound(m.Address)
	}
	return []wire.Message{wire.Snapshot{Entries: []wire.SnapshotEntry{
		{Address: m.Address, Value: ps.Value, Revision: ps.Revision},
	}}}, nil
}

func (r *Router) handleQuery(m wire.Query) ([]wire.Message, error) {
	pattern, err := address.ParsePattern(m.Pattern)
	if err != nil {
		return nil, errInvalidAddress(err.Error())
	}
	matches := r.store.GetMatching(pattern)
	sigs := make([]wire.SignalDescriptor, 0, len(matches))
	for _, mp := range matches {
		sigs = append(sigs, wire.SignalDescriptor{
			Address: mp.Address.String(), Kind: wire.SigKindParamEvent, Retained: true,
			HasRev: true, Revision: mp.State.Revision,
		})
	}
	for _, e := range r.store.Signals().Matching(pattern) {
		sigs = append(sigs, wire.SignalDescriptor{Address: e.Address.String(), Kind: e.Kind})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Address < sigs[j].Address })
	return []wire.Message{wire.Result{Signals: sigs}}, nil
}

// handleBundle applies a BUNDLE (spec §4.5). An absent or past timestamp
// executes immediately; a future one is handed to the scheduler. Every
// child's own scope must be individually satisfied (SPEC_FULL.md §C.4).
func (r *Router) handleBundle(sess *Session, m wire.Bundle, nowUS uint64) ([]wire.Message, error) {
	if err := r.checkBundleScopes(sess, m); err != nil {
		return nil, err
	}
	if m.HasTS && m.TS > nowUS {
		r.scheduler.schedule(sess.ID, m.TS, m)
		return nil, nil
	}
	r.applyBundle(sess, m, nowUS)
	return nil, nil
}

func (r *Router) checkBundleScopes(sess *Session, b wire.Bundle) error {
	for _, child := range b.Messages {
		var addrStr string
		var action address.Action
		switch c := child.(type) {
		case wire.Set:
			addrStr, action = c.Address, address.Write
		case wire.Publish:
			addrStr, action = c.Address, address.Write
		case wire.Get:
			addrStr, action = c.Address, address.Read
		default:
			continue
		}
		addr, err := address.Parse(addrStr)
		if err != nil {
			return errInvalidAddress(err.Error())
		}
		if !sess.Scopes.Allows(action, addr) {
			return errPermissionDenied(addrStr)
		}
	}
	return nil
}

// applyBundle executes every child message in declared order, with all
// resulting fanout enqueued before returning (spec §4.5 "Fanout atomicity").
func (r *Router) applyBundle(sess *Session, b wire.Bundle, nowUS uint64) {
	_, span := r.tracer.Start(context.Background(), "clasp.bundle.apply")
	defer span.End()
	span.AddEvent("dispatch", "children", len(b.Messages))

	for _, child := range b.Messages {
		switch m := child.(type) {
		case wire.Set:
			_, _ = r.handleSet(sess, m, nowUS)
		case wire.Publish:
			_, _ = r.handlePublish(sess, m, nowUS)
		}
	}
}

// RunScheduler dispatches every bundle whose deadline has passed. The
// caller is expected to invoke this on a tight timer (spec default
// tolerance 1ms; spec §4.5 "Bundle scheduling").
func (r *Router) RunScheduler(nowUS uint64) {
	for _, sb := range r.scheduler.due(nowUS) {
		r.mu.RLock()
		sess, ok := r.sessions[sb.sessionID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		r.applyBundle(sess, sb.bundle, nowUS)
	}
}

// CleanupStale runs the State Store's periodic eviction pass (spec §6
// "State cleanup collaborator"). Hosting applications invoke this on an
// external timer, default 60s.
func (r *Router) CleanupStale(nowUS uint64) int {
	return r.store.CleanupStale(nowUS)
}

// JoinCluster connects to the optional multi-node session directory
// (SPEC_FULL.md §B.1) when cfg.Cluster.Enabled; it is a no-op otherwise.
// Call once after New, before accepting connections. The caller is
// responsible for calling CloseCluster on shutdown.
func (r *Router) JoinCluster(ctx context.Context) error {
	if !r.cfg.Cluster.Enabled {
		return nil
	}
	opts, err := redis.ParseURL(r.cfg.Cluster.RedisURL)
	if err != nil {
		return fmt.Errorf("router: parse cluster redis_url: %w", err)
	}
	dir, err := cluster.Join(ctx, cluster.Config{
		Redis: redis.NewClient(opts),
		Name:  r.cfg.Cluster.Name,
	})
	if err != nil {
		return fmt.Errorf("router: join cluster: %w", err)
	}
	r.cluster = dir
	return nil
}

// RunClusterSchedulerLeader drives RunScheduler from the cluster's elected
// leader tick rather than a local timer, so exactly one Router Core process
// in a multi-node deployment fires due Bundles. Blocks until ctx is
// cancelled; a no-op if JoinCluster was never called or the cluster is
// disabled.
func (r *Router) RunClusterSchedulerLeader(ctx context.Context) error {
	if r.cluster == nil {
		return nil
	}
	return r.cluster.RunSchedulerLeader(ctx, r.RunScheduler)
}

// CloseCluster leaves the cluster directory, if one was joined.
func (r *Router) CloseCluster(ctx context.Context) error {
	if r.cluster == nil {
		return nil
	}
	return r.cluster.Close(ctx)
}

// fanout resolves subscribers for addr/kind and pushes msg, framed, onto
// each matching session's outbox, disconnecting any session whose outbox
// persistently overflows (spec §5 "Backpressure").
func (r *Router) fanout(addr address.Address, kind wire.SignalKind, msg wire.Message, qos wire.QoS) {
	subs := r.subs.Fanout(addr, kind)
	if len(subs) == 0 {
		return
	}
	encoded, err := wire.EncodeMessage(msg)
	if err != nil {
		r.logger.Error(context.Background(), "fanout encode failed", "err", err)
		return
	}
	frame := wire.Frame{QoS: qos, Ver: 1, Payload: encoded}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range subs {
		sess, ok := r.sessions[sub.SessionID]
		if !ok {
			continue
		}
		if dropped, persistent := sess.Enqueue(frame); dropped {
			r.metrics.IncCounter("clasp.fanout.dropped", 1)
			if persistent {
				r.metrics.IncCounter("clasp.outbox.overflow_disconnect", 1)
				go r.Disconnect(sess)
			}
		} else {
			r.metrics.IncCounter("clasp.fanout.delivered", 1)
		}
	}
}

// toHandlerError maps a state.RejectError onto the matching ERROR code
// (spec §7), counting the rejection by reason (SPEC_FULL.md §A.1).
func (r *Router) toHandlerError(err error, addr string) error {
	if re, ok := err.(*state.RejectError); ok {
		r.metrics.IncCounter("clasp.writes.rejected", 1, "reason", string(re.Reason))
		switch re.Reason {
		case state.ReasonLocked:
			return &HandlerError{Code: CodeLocked, Message: "locked by " + re.Holder, Address: addr, HasAddr: true}
		case state.ReasonStaleRevision:
			return &HandlerError{Code: CodeStaleRevision, Message: "stale revision", Address: addr, HasAddr: true}
		case state.ReasonTypeMismatch:
			return &HandlerError{Code: CodeTypeMismatch, Message: "type mismatch", Address: addr, HasAddr: true}
		case state.ReasonQuotaExceeded:
			return &HandlerError{Code: CodeQuotaExceeded, Message: "quota exceeded", Address: addr, HasAddr: true}
		default:
			return &HandlerError{Code: CodeInternal, Message: string(re.Reason), Address: addr, HasAddr: true}
		}
	}
	return errInternal(err.Error())
}
