package subscription_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/address"
	"github.com/clasp-io/clasp/subscription"
	"github.com/clasp-io/clasp/wire"
)

func TestAdd_EnforcesPerSessionCap(t *testing.T) {
	t.Parallel()

	idx := subscription.New(1)
	require.NoError(t, idx.Add(&subscription.Subscription{
		ID: 1, SessionID: "s1", Pattern: address.MustParsePattern("/a"), KindMask: byte(wire.BitParam),
	}))
	err := idx.Add(&subscription.Subscription{
		ID: 2, SessionID: "s1", Pattern: address.MustParsePattern("/b"), KindMask: byte(wire.BitParam),
	})
	require.Error(t, err)
	var qe *subscription.QuotaExceededError
	require.ErrorAs(t, err, &qe)
}

func TestFanout_MatchesPatternAndKind(t *testing.T) {
	t.Parallel()

	idx := subscription.New(0)
	require.NoError(t, idx.Add(&subscription.Subscription{
		ID: 1, SessionID: "s1", Pattern: address.MustParsePattern("/ns/foo/**"), KindMask: byte(wire.BitParam),
	}))
	require.NoError(t, idx.Add(&subscription.Subscription{
		ID: 2, SessionID: "s2", Pattern: address.MustParsePattern("/ns/foo/**"), KindMask: byte(wire.BitEvent),
	}))
	require.NoError(t, idx.Add(&subscription.Subscription{
		ID: 3, SessionID: "s3", Pattern: address.MustParsePattern("/other/**"), KindMask: byte(wire.BitParam),
	}))

	addr := address.MustParse("/ns/foo/bar")
	hits := idx.Fanout(addr, wire.SigKindParamEvent)
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].ID)
}

func TestFanout_CatchAllWildcardBucket(t *testing.T) {
	t.Parallel()

	idx := subscription.New(0)
	require.NoError(t, idx.Add(&subscription.Subscription{
		ID: 1, SessionID: "s1", Pattern: address.MustParsePattern("/**"), KindMask: byte(wire.BitEvent),
	}))

	addr := address.MustParse("/anything/at/all")
	hits := idx.Fanout(addr, wire.SigKindEvent)
	require.Len(t, hits, 1)
}

func TestRemove_DeletesEmptyBucket(t *testing.T) {
	t.Parallel()

	idx := subscription.New(0)
	sub := &subscription.Subscription{ID: 1, SessionID: "s1", Pattern: address.MustParsePattern("/a/b"), KindMask: byte(wire.BitParam)}
	require.NoError(t, idx.Add(sub))
	idx.Remove("s1", 1)

	hits := idx.Fanout(address.MustParse("/a/b"), wire.SigKindParamEvent)
	assert.Empty(t, hits)
	assert.Equal(t, 0, idx.Count("s1"))
}

func TestRemoveSession_RemovesAllSubscriptions(t *testing.T) {
	t.Parallel()

	idx := subscription.New(0)
	require.NoError(t, idx.Add(&subscription.Subscription{ID: 1, SessionID: "s1", Pattern: address.MustParsePattern("/a"), KindMask: byte(wire.BitParam)}))
	require.NoError(t, idx.Add(&subscription.Subscription{ID: 2, SessionID: "s1", Pattern: address.MustParsePattern("/b"), KindMask: byte(wire.BitParam)}))

	idx.RemoveSession("s1")
	assert.Equal(t, 0, idx.Count("s1"))
	assert.Empty(t, idx.Fanout(address.MustParse("/a"), wire.SigKindParamEvent))
}
