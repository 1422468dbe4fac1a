package address

import "strings"

// segKind classifies one compiled pattern segment.
type segKind uint8

const (
	segLiteral segKind = iota
	segSingle          // "*"
	segMulti           // "**"
)

type patternSeg struct {
	kind segKind
	lit  string // valid when kind == segLiteral
}

// Pattern is a precompiled address pattern: a segment list plus the small
// state machine spec.md §4.1 asks implementations to precompile to. Match
// is O(|pattern|+|address|) when the pattern has no "**", and
// O(|pattern|*|address|) otherwise (backtracking search over "**" splits).
type Pattern struct {
	raw  string
	segs []patternSeg
	// hasMulti records whether any segment is "**". Match does not consult
	// it: the same matcher handles patterns with and without "**".
	hasMulti bool
}

// ParsePattern validates and compiles a subscription/scope pattern. The same
// structural rules as Parse apply, plus "*" and "**" are accepted as whole
// segments (not substrings — "fo*o" is not a wildcard, it is an invalid
// literal segment containing "*").
func ParsePattern(s string) (Pattern, error) {
	parts, err := splitAndValidate(s, true)
	if err != nil {
		return Pattern{}, err
	}
	segs := make([]patternSeg, 0, len(parts))
	hasMulti := false
	for _, p := range parts {
		switch p {
		case "*":
			segs = append(segs, patternSeg{kind: segSingle})
		case "**":
			segs = append(segs, patternSeg{kind: segMulti})
			hasMulti = true
		default:
			if strings.ContainsAny(p, "*") {
				return Pattern{}, New("malformed_wildcard_segment", s)
			}
			segs = append(segs, patternSeg{kind: segLiteral, lit: p})
		}
	}
	return Pattern{raw: s, segs: segs, hasMulti: hasMulti}, nil
}

// MustParsePattern parses s and panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Match reports whether addr is matched by the pattern: "*" matches exactly
// one segment, "**" matches zero or more segments (greedy, with
// backtracking when more than one "**" or ambiguous splits are present),
// and literal segments require exact byte equality.
func (p Pattern) Match(addr Address) bool {
	return matchFrom(p.segs, addr.segments)
}

// MatchString compiles and matches in one step. Prefer Pattern.Match with a
// precompiled Pattern on hot paths (subscription fanout); this is a
// convenience for one-off checks.
func MatchString(pattern, addr string) (bool, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return false, err
	}
	a, err := Parse(addr)
	if err != nil {
		return false, err
	}
	return p.Match(a), nil
}

func matchFrom(segs []patternSeg, addr []string) bool {
	if len(segs) == 0 {
		return len(addr) == 0
	}
	head := segs[0]
	switch head.kind {
	case segLiteral:
		if len(addr) == 0 || addr[0] != head.lit {
			return false
		}
		return matchFrom(segs[1:], addr[1:])
	case segSingle:
		if len(addr) == 0 {
			return false
		}
		return matchFrom(segs[1:], addr[1:])
	case segMulti:
		// Greedy: try consuming the most address segments first, then
		// backtrack. Zero-length match (skip the "**" entirely) is tried
		// last so the common "/**": matches-everything case short-circuits
		// without walking the whole address first.
		for n := len(addr); n >= 0; n-- {
			if matchFrom(segs[1:], addr[n:]) {
				return true
			}
		}
		return false
	}
	return false
}

// LiteralPrefix returns the longest wildcard-free leading run of segments,
// joined back into a "/"-prefixed string. Used by the subscription index to
// bucket patterns by their non-wildcard prefix (spec §4.4).
func (p Pattern) LiteralPrefix() string {
	var b strings.Builder
	for _, s := range p.segs {
		if s.kind != segLiteral {
			break
		}
		b.WriteByte('/')
		b.WriteString(s.lit)
	}
	return b.String()
}

// HasWildcard reports whether the pattern contains any "*" or "**" segment.
func (p Pattern) HasWildcard() bool {
	for _, s := range p.segs {
		if s.kind != segLiteral {
			return true
		}
	}
	return false
}
