package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/auth"
	"github.com/clasp-io/clasp/value"
	"github.com/clasp-io/clasp/wire"
)

type fakeTransport struct{}

func (fakeTransport) RecvFrame() (wire.Frame, error)  { return wire.Frame{}, nil }
func (fakeTransport) SendFrame(wire.Frame) error      { return nil }
func (fakeTransport) Close() error                    { return nil }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxMessagesPerSecond = 0
	cfg.RateLimitingEnabled = false
	return New(cfg)
}

func activateSession(t *testing.T, r *Router) *Session {
	t.Helper()
	sess := r.Connect(fakeTransport{})
	_, err := r.HandleHello(sess, wire.Hello{Name: "tester"}, 1000)
	require.NoError(t, err)
	require.Equal(t, StateActive, sess.State())
	return sess
}

func TestHandleHello_OpenModeActivatesSession(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)
	assert.True(t, sess.Scopes.Allows(address.Write, address.MustParse("/anything/here")))
}

func TestHandleHello_TokenedModeRejectsMissingToken(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityTokened
	r := New(cfg, WithAuth(auth.NewStaticValidator()))
	sess := r.Connect(fakeTransport{})
	_, err := r.HandleHello(sess, wire.Hello{Name: "tester"}, 1000)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, CodePermissionDenied, herr.Code)
}

func TestSetThenGet_RoundTrips(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	resp, err := r.HandleMessage(sess, wire.Set{Address: "/synth/cutoff", Value: value.Float32(0.5)}, 1000)
	require.NoError(t, err)
	require.Len(t, resp, 1)
	_, isAck := resp[0].(wire.Ack)
	assert.True(t, isAck)

	resp, err = r.HandleMessage(sess, wire.Get{Address: "/synth/cutoff"}, 2000)
	require.NoError(t, err)
	require.Len(t, resp, 1)
	snap, ok := resp[0].(wire.Snapshot)
	require.True(t, ok)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, uint64(1), snap.Entries[0].Revision)
}

func TestGet_NotFoundReturnsError(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	_, err := r.HandleMessage(sess, wire.Get{Address: "/nowhere"}, 1000)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, CodeNotFound, herr.Code)
}

func TestSubscribe_ReceivesSnapshotAndFanout(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	writer := activateSession(t, r)
	subscriber := activateSession(t, r)

	_, err := r.HandleMessage(writer, wire.Set{Address: "/synth/cutoff", Value: value.Float32(0.1)}, 1000)
	require.NoError(t, err)

	resp, err := r.HandleMessage(subscriber, wire.Subscribe{SubID: 1, Pattern: "/synth/**", KindMask: 0xFF}, 2000)
	require.NoError(t, err)
	require.Len(t, resp, 1)
	snap, ok := resp[0].(wire.Snapshot)
	require.True(t, ok)
	require.Len(t, snap.Entries, 1)

	_, err = r.HandleMessage(writer, wire.Set{Address: "/synth/cutoff", Value: value.Float32(0.2)}, 3000)
	require.NoError(t, err)

	select {
	case frame := <-subscriber.outbox:
		msg, err := wire.DecodeMessage(frame.Payload)
		require.NoError(t, err)
		set, ok := msg.(wire.Set)
		require.True(t, ok)
		assert.Equal(t, "/synth/cutoff", set.Address)
	default:
		t.Fatal("expected a fanout frame in subscriber outbox")
	}
}

func TestSet_StaleRevisionRejected(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	_, err := r.HandleMessage(sess, wire.Set{Address: "/x", Value: value.Int32(1)}, 1000)
	require.NoError(t, err)

	badRev := uint64(5)
	_, err = r.HandleMessage(sess, wire.Set{Address: "/x", Value: value.Int32(2), HasRev: true, Revision: badRev}, 2000)
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, CodeStaleRevision, herr.Code)
}

func TestQuery_ReturnsRetainedAndSignalDescriptors(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	_, err := r.HandleMessage(sess, wire.Set{Address: "/synth/cutoff", Value: value.Float32(0.1)}, 1000)
	require.NoError(t, err)
	_, err = r.HandleMessage(sess, wire.Publish{SigKind: wire.SigKindEvent, Address: "/synth/hit"}, 1500)
	require.NoError(t, err)

	resp, err := r.HandleMessage(sess, wire.Query{Pattern: "/synth/**"}, 2000)
	require.NoError(t, err)
	require.Len(t, resp, 1)
	result, ok := resp[0].(wire.Result)
	require.True(t, ok)
	assert.Len(t, result.Signals, 2)
}

func TestDisconnect_ReleasesSubscriptionsAndLocks(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	_, err := r.HandleMessage(sess, wire.Set{Address: "/x", Value: value.Int32(1), Lock: true}, 1000)
	require.NoError(t, err)
	_, err = r.HandleMessage(sess, wire.Subscribe{SubID: 1, Pattern: "/**"}, 1000)
	require.NoError(t, err)

	r.Disconnect(sess)

	other := r.Connect(fakeTransport{})
	_, err = r.HandleHello(other, wire.Hello{}, 2000)
	require.NoError(t, err)
	_, err = r.HandleMessage(other, wire.Set{Address: "/x", Value: value.Int32(2)}, 2000)
	require.NoError(t, err, "lock should have been released on disconnect")

	assert.Equal(t, 0, NewAdmin(r).SubscriptionCount(sess.ID))
}

func TestGestureCoalescing_BurstForwardsLeadingAndTrailingEdges(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	writer := activateSession(t, r)
	subscriber := activateSession(t, r)

	_, err := r.HandleMessage(subscriber, wire.Subscribe{SubID: 1, Pattern: "/gesture/**", KindMask: 0xFF}, 0)
	require.NoError(t, err)

	drain := func() []wire.Publish {
		var got []wire.Publish
		for {
			select {
			case frame := <-subscriber.outbox:
				msg, err := wire.DecodeMessage(frame.Payload)
				require.NoError(t, err)
				got = append(got, msg.(wire.Publish))
			default:
				return got
			}
		}
	}

	_, err = r.HandleMessage(writer, wire.Publish{
		SigKind: wire.SigKindGesture, Phase: wire.PhaseStart, Address: "/gesture/knob", HasID: true, GestureID: 1,
	}, 1000)
	require.NoError(t, err)

	const moves = 100
	for i := 0; i < moves; i++ {
		_, err = r.HandleMessage(writer, wire.Publish{
			SigKind: wire.SigKindGesture, Phase: wire.PhaseMove, Address: "/gesture/knob",
			HasID: true, GestureID: 1, HasValue: true, Value: value.Float32(float32(i)),
		}, uint64(2000+i*1000))
		require.NoError(t, err)
	}

	_, err = r.HandleMessage(writer, wire.Publish{
		SigKind: wire.SigKindGesture, Phase: wire.PhaseEnd, Address: "/gesture/knob", HasID: true, GestureID: 1,
	}, uint64(2000+moves*1000))
	require.NoError(t, err)

	got := drain()
	require.NotEmpty(t, got)
	assert.Equal(t, wire.PhaseStart, got[0].Phase)
	assert.Equal(t, wire.PhaseEnd, got[len(got)-1].Phase)

	var moveCount int
	for _, m := range got {
		if m.Phase == wire.PhaseMove {
			moveCount++
		}
	}
	// 100 moves at 1ms over a 16ms window should coalesce to roughly
	// ceil(100/16) forwarded moves (SPEC_FULL.md §C.3), never all 100 and
	// never silently zero.
	assert.Greater(t, moveCount, 0)
	assert.Less(t, moveCount, moves)
	assert.InDelta(t, 7, moveCount, 4)
}

func TestBundle_SchedulesFutureDeadline(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	sess := activateSession(t, r)

	bundle := wire.Bundle{
		HasTS: true, TS: 5000,
		Messages: []wire.Message{wire.Set{Address: "/x", Value: value.Int32(1)}},
	}
	_, err := r.HandleMessage(sess, bundle, 1000)
	require.NoError(t, err)

	_, ok := r.store.GetSnapshot(address.MustParse("/x"))
	assert.False(t, ok, "bundle should not apply before its deadline")

	r.RunScheduler(5000)
	ps, ok := r.store.GetSnapshot(address.MustParse("/x"))
	require.True(t, ok)
	assert.Equal(t, uint64(1), ps.Revision)
}
