package wire_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/value"
	"github.com/clasp-io/clasp/wire"
)

func asciiGen() gopter.Gen {
	return gen.RegexMatch(`[a-zA-Z0-9/_-]{0,24}`)
}

// TestProperty_SetRoundTrip is the spec §8 law: decode(encode(m)) == m for
// every well-formed message.
func TestProperty_SetRoundTrip(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("SET survives an encode/decode round trip", prop.ForAll(
		func(addr string, i int32, lock bool) bool {
			msg := wire.Set{Address: addr, Value: value.Int32(i), Lock: lock}
			encoded, err := wire.EncodeMessage(msg)
			if err != nil {
				return true
			}
			decoded, err := wire.DecodeMessage(encoded)
			if err != nil {
				return false
			}
			got, ok := decoded.(wire.Set)
			return ok && got.Address == msg.Address && got.Lock == msg.Lock && got.Unlock == msg.Unlock &&
				got.HasRev == msg.HasRev && got.Revision == msg.Revision && got.Value.Equal(msg.Value)
		},
		asciiGen(), gen.Int32(), gen.Bool(),
	))

	properties.Property("PUBLISH with a float payload survives a round trip", prop.ForAll(
		func(addr string, f float32, hasTS bool, ts uint64) bool {
			msg := wire.Publish{
				SigKind: wire.SigKindStream, Address: addr,
				HasValue: true, Value: value.Float32(f), HasTS: hasTS, TS: ts,
			}
			encoded, err := wire.EncodeMessage(msg)
			if err != nil {
				return true
			}
			decoded, err := wire.DecodeMessage(encoded)
			if err != nil {
				return false
			}
			got, ok := decoded.(wire.Publish)
			if !ok {
				return false
			}
			gotBits, _ := got.Value.Float32Bits()
			wantBits, _ := msg.Value.Float32Bits()
			return got.Address == msg.Address && got.HasTS == msg.HasTS && got.TS == msg.TS && gotBits == wantBits
		},
		asciiGen(), gen.Float32(), gen.Bool(), gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestProperty_FrameRoundTripPreservesPayload(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("frame payload survives encode/decode regardless of flags", prop.ForAll(
		func(qos uint8, ver uint8, payload []byte) bool {
			if len(payload) > 65535 {
				return true
			}
			f := wire.Frame{QoS: wire.QoS(qos % 3), Ver: ver % 8, Payload: payload}
			encoded, err := wire.EncodeFrame(f)
			require.NoError(t, err)
			decoded, err := wire.DecodeFrameBytes(encoded)
			if err != nil {
				return false
			}
			return decoded.QoS == f.QoS && decoded.Ver == f.Ver && string(decoded.Payload) == string(f.Payload)
		},
		gen.UInt8(), gen.UInt8(), gen.SliceOf(gen.UInt8Range(0, 255)),
	))

	properties.TestingRun(t)
}
