package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/value"
	"github.com/clasp-io/clasp/wire"
)

func legacyRoundTrip(t *testing.T, msg wire.Message) wire.Message {
	t.Helper()
	encoded, err := wire.EncodeMessageLegacy(msg)
	require.NoError(t, err)
	assert.True(t, wire.LooksLegacy(encoded))
	decoded, err := wire.DecodeMessageLegacy(encoded)
	require.NoError(t, err)
	return decoded
}

func TestLegacy_RoundTrip(t *testing.T) {
	t.Parallel()

	msgs := []wire.Message{
		wire.Hello{Version: 1, Features: 0xF0, Name: "a", Token: "t"},
		wire.Set{Lock: true, Address: "/x", Value: value.Int32(7), HasRev: true, Revision: 1},
		wire.Publish{SigKind: wire.SigKindGesture, Phase: wire.PhaseEnd, Address: "/p", HasValue: true, Value: value.String("go")},
		wire.Bundle{Messages: []wire.Message{wire.Ping{}, wire.Get{Address: "/a"}}},
		wire.Announce{Namespace: "/ns", Signals: []wire.SignalDescriptor{{Address: "/ns/a", Kind: wire.SigKindEvent}}},
	}
	for _, msg := range msgs {
		assert.Equal(t, msg, legacyRoundTrip(t, msg))
	}
}

// TestLegacy_EquivalentToPositional is the spec §8 law that legacy and
// positional decoders agree on the semantic content of the same logical
// message, even though their wire bytes differ.
func TestLegacy_EquivalentToPositional(t *testing.T) {
	t.Parallel()

	msg := wire.Set{Address: "/mix/gain", Value: value.Float64(0.5), HasRev: true, Revision: 4}

	positional, err := wire.EncodeMessage(msg)
	require.NoError(t, err)
	legacy, err := wire.EncodeMessageLegacy(msg)
	require.NoError(t, err)

	fromPositional, err := wire.DecodeMessageAuto(positional)
	require.NoError(t, err)
	fromLegacy, err := wire.DecodeMessageAuto(legacy)
	require.NoError(t, err)

	assert.Equal(t, fromPositional, fromLegacy)
}

func TestLooksLegacy(t *testing.T) {
	t.Parallel()

	positional, err := wire.EncodeMessage(wire.Ping{})
	require.NoError(t, err)
	assert.False(t, wire.LooksLegacy(positional))

	legacy, err := wire.EncodeMessageLegacy(wire.Ping{})
	require.NoError(t, err)
	assert.True(t, wire.LooksLegacy(legacy))

	assert.False(t, wire.LooksLegacy(nil))
}
