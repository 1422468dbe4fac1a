package address_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/address"
)

func mustMatch(t *testing.T, pattern, addr string) bool {
	t.Helper()
	ok, err := address.MatchString(pattern, addr)
	require.NoError(t, err)
	return ok
}

func TestMatch_LiteralSegment(t *testing.T) {
	t.Parallel()

	assert.True(t, mustMatch(t, "/a/b/c", "/a/b/c"))
	assert.False(t, mustMatch(t, "/a/b/c", "/a/b/d"))
	assert.False(t, mustMatch(t, "/a/b", "/a/b/c"))
}

func TestMatch_SingleWildcard(t *testing.T) {
	t.Parallel()

	assert.True(t, mustMatch(t, "/a/*/c", "/a/b/c"))
	assert.False(t, mustMatch(t, "/a/*/c", "/a/b/x/c"))
	assert.False(t, mustMatch(t, "/a/*", "/a"))
}

func TestMatch_DoubleWildcard(t *testing.T) {
	t.Parallel()

	assert.True(t, mustMatch(t, "/a/**", "/a"))
	assert.True(t, mustMatch(t, "/a/**", "/a/b"))
	assert.True(t, mustMatch(t, "/a/**", "/a/b/c/d"))
	assert.True(t, mustMatch(t, "/**", "/anything/at/all"))
	assert.False(t, mustMatch(t, "/a/**", "/b"))
}

func TestMatch_MultipleDoubleWildcards(t *testing.T) {
	t.Parallel()

	// Two "**" segments must still yield a correct match (spec §4.1: support
	// required for any number, not just one).
	assert.True(t, mustMatch(t, "/a/**/b/**", "/a/x/y/b/z"))
	assert.True(t, mustMatch(t, "/a/**/b/**", "/a/b"))
	assert.False(t, mustMatch(t, "/a/**/b/**", "/a/x"))
}

func TestMatch_WildcardSnapshotScenario(t *testing.T) {
	t.Parallel()

	// spec §8 scenario 2: seed /a, /a/b, /c; subscribe "/**" matches all three.
	p := address.MustParsePattern("/**")
	for _, a := range []string{"/a", "/a/b", "/c"} {
		assert.True(t, p.Match(address.MustParse(a)))
	}
}

func TestLiteralPrefix(t *testing.T) {
	t.Parallel()

	p := address.MustParsePattern("/ns/foo/**")
	assert.Equal(t, "/ns/foo", p.LiteralPrefix())

	p2 := address.MustParsePattern("/**")
	assert.Equal(t, "", p2.LiteralPrefix())

	p3 := address.MustParsePattern("/a/*/b")
	assert.Equal(t, "/a", p3.LiteralPrefix())
}

// segGen produces path-safe segment strings for property tests: non-empty,
// no "/" or NUL, and never exactly "*"/"**" (those are reserved for the
// pattern-side generator below).
func segGen() gopter.Gen {
	return gen.RegexMatch(`[a-z][a-z0-9]{0,5}`)
}

func addrGen(maxSegs int) gopter.Gen {
	return gen.SliceOfN(maxSegs, segGen()).Map(func(segs []string) string {
		return "/" + strings.Join(segs, "/")
	})
}

// TestMatch_DeterministicAndTotal is a property test for spec §8's law: for
// all addresses a and patterns p, match(p,a) is deterministic (repeated
// calls agree) and never panics.
func TestMatch_DeterministicAndTotal(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated Match calls on the same pattern/address agree", prop.ForAll(
		func(addr string) bool {
			a, err := address.Parse(addr)
			if err != nil {
				return true // not a valid address; nothing to check
			}
			p := address.MustParsePattern("/**")
			first := p.Match(a)
			for i := 0; i < 5; i++ {
				if p.Match(a) != first {
					return false
				}
			}
			return true
		},
		addrGen(4),
	))

	properties.Property("an address always matches its own exact literal pattern", prop.ForAll(
		func(addr string) bool {
			a, err := address.Parse(addr)
			if err != nil {
				return true
			}
			p, err := address.ParsePattern(addr)
			if err != nil {
				return true
			}
			return p.Match(a)
		},
		addrGen(4),
	))

	properties.TestingRun(t)
}
