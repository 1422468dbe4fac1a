package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/value"
	"github.com/clasp-io/clasp/wire"
)

func roundTrip(t *testing.T, msg wire.Message) wire.Message {
	t.Helper()
	encoded, err := wire.EncodeMessage(msg)
	require.NoError(t, err)
	decoded, err := wire.DecodeMessage(encoded)
	require.NoError(t, err)
	return decoded
}

func TestEncodeDecode_Hello(t *testing.T) {
	t.Parallel()

	msg := wire.Hello{Version: 1, Features: 0xF0, Name: "studio-a", Token: "tok"}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Welcome(t *testing.T) {
	t.Parallel()

	msg := wire.Welcome{Version: 1, Features: 0x80, ServerTime: 99, SessionID: "sess-1", ServerName: "claspd", Token: "tok"}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Announce(t *testing.T) {
	t.Parallel()

	msg := wire.Announce{
		Namespace: "/studio",
		Signals: []wire.SignalDescriptor{
			{Address: "/studio/vol", Kind: wire.SigKindParamEvent, Retained: true, HasRev: true, Revision: 3},
			{Address: "/studio/tap", Kind: wire.SigKindEvent},
		},
	}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Subscribe(t *testing.T) {
	t.Parallel()

	msg := wire.Subscribe{SubID: 7, Pattern: "/a/**", KindMask: 0xF8, HasRate: true, MaxRate: 60, HasEps: true, Epsilon: 0.01}
	assert.Equal(t, msg, roundTrip(t, msg))

	bare := wire.Subscribe{SubID: 8, Pattern: "/a/b", KindMask: 0x80}
	assert.Equal(t, bare, roundTrip(t, bare))
}

func TestEncodeDecode_Publish(t *testing.T) {
	t.Parallel()

	msg := wire.Publish{
		SigKind: wire.SigKindGesture, Phase: wire.PhaseMove, Address: "/pad/x",
		HasValue: true, Value: value.Float32(0.5), HasTS: true, TS: 42, HasID: true, GestureID: 9,
	}
	assert.Equal(t, msg, roundTrip(t, msg))

	noValue := wire.Publish{SigKind: wire.SigKindEvent, Phase: wire.PhaseStart, Address: "/btn"}
	got := roundTrip(t, noValue)
	pub, ok := got.(wire.Publish)
	require.True(t, ok)
	assert.False(t, pub.HasValue)
	assert.True(t, pub.Value.IsNull())
}

func TestEncodeDecode_Set(t *testing.T) {
	t.Parallel()

	msg := wire.Set{Lock: true, Address: "/mix/gain", Value: value.Float64(0.75), HasRev: true, Revision: 12}
	assert.Equal(t, msg, roundTrip(t, msg))

	unlocked := wire.Set{Address: "/mix/gain", Value: value.String("preset-a")}
	assert.Equal(t, unlocked, roundTrip(t, unlocked))
}

func TestEncodeDecode_Get(t *testing.T) {
	t.Parallel()

	msg := wire.Get{Address: "/mix/gain"}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Snapshot(t *testing.T) {
	t.Parallel()

	msg := wire.Snapshot{Entries: []wire.SnapshotEntry{
		{Address: "/a", Value: value.Int32(1), Revision: 1},
		{Address: "/b", Value: value.String("x"), Revision: 2},
	}}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Bundle(t *testing.T) {
	t.Parallel()

	msg := wire.Bundle{
		HasTS: true, TS: 100,
		Messages: []wire.Message{
			wire.Set{Address: "/a", Value: value.Bool(true)},
			wire.Publish{SigKind: wire.SigKindEvent, Address: "/b"},
		},
	}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_Sync(t *testing.T) {
	t.Parallel()

	msg := wire.Sync{T1: 10, HasT2T3: true, T2: 11, T3: 12}
	assert.Equal(t, msg, roundTrip(t, msg))

	bare := wire.Sync{T1: 5}
	assert.Equal(t, bare, roundTrip(t, bare))
}

func TestEncodeDecode_PingPong(t *testing.T) {
	t.Parallel()

	assert.Equal(t, wire.Ping{}, roundTrip(t, wire.Ping{}))
	assert.Equal(t, wire.Pong{}, roundTrip(t, wire.Pong{}))
}

func TestEncodeDecode_AckError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, wire.Ack{Correlation: 5}, roundTrip(t, wire.Ack{Correlation: 5}))

	msg := wire.Error{Code: 404, Message: "not found", HasAddress: true, Address: "/x", HasCorrelation: true, Correlation: 3}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestEncodeDecode_QueryResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, wire.Query{Pattern: "/**"}, roundTrip(t, wire.Query{Pattern: "/**"}))

	msg := wire.Result{Signals: []wire.SignalDescriptor{{Address: "/a", Kind: wire.SigKindStream}}}
	assert.Equal(t, msg, roundTrip(t, msg))
}

func TestDecodeMessage_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := wire.DecodeMessage([]byte{0xAA})
	require.Error(t, err)
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "UnknownMessageType", de.Kind)
}

func TestDecodeMessage_TruncatedPayload(t *testing.T) {
	t.Parallel()

	encoded, err := wire.EncodeMessage(wire.Get{Address: "/a/b"})
	require.NoError(t, err)
	_, err = wire.DecodeMessage(encoded[:len(encoded)-1])
	require.Error(t, err)
}
