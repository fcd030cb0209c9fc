package core

// mapping.go proposes a source-column to target-field assignment.
//
// Headers and field names are normalized (accents stripped, case-folded,
// non-alphanumerics dropped) and compared in tiers of decreasing confidence:
//
//  1. exact match on the field key or label
//  2. alias table ("qty" -> quantity)
//  3. substring containment
//  4. fuzzy match (small edit distance, or an abbreviation of the name)
//
// Each tier runs over all still-unassigned headers in header order before
// the next tier starts, so a later exact match beats an earlier fuzzy one.
// Within a tier a header goes to the field whose matched name is longest
// ("author name" is author, not title by its "name" alias), and the first
// header to claim a field keeps it; others fall through.

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minSubstringLen is the shortest name that takes part in substring matching.
const minSubstringLen = 3

// minFuzzyLen is the shortest name that takes part in fuzzy matching.
const minFuzzyLen = 4

// NormalizeHeader folds a header or field name to its comparison form.
func NormalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fieldNames holds the normalized names a field can be recognized by.
type fieldNames struct {
	key     string
	primary []string // key and label
	aliases []string
}

func (n fieldNames) all() []string {
	out := make([]string, 0, len(n.primary)+len(n.aliases))
	out = append(out, n.primary...)
	return append(out, n.aliases...)
}

func namesFor(f TargetField) fieldNames {
	n := fieldNames{key: f.Key}
	seen := map[string]bool{}
	add := func(dst *[]string, s string) {
		s = NormalizeHeader(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		*dst = append(*dst, s)
	}
	add(&n.primary, f.Key)
	add(&n.primary, f.Label)
	for _, a := range f.Aliases {
		add(&n.aliases, a)
	}
	return n
}

// matchTier scores how well header matches a field; zero is no match.
type matchTier func(header string, names fieldNames) int

var inferenceTiers = []matchTier{
	matchExact,
	matchAlias,
	matchSubstring,
	matchFuzzy,
}

func matchExact(header string, names fieldNames) int {
	for _, n := range names.primary {
		if header == n {
			return len(n)
		}
	}
	return 0
}

func matchAlias(header string, names fieldNames) int {
	for _, n := range names.aliases {
		if header == n {
			return len(n)
		}
	}
	return 0
}

func matchSubstring(header string, names fieldNames) int {
	if len(header) < minSubstringLen {
		return 0
	}
	best := 0
	for _, n := range names.all() {
		if len(n) < minSubstringLen {
			continue
		}
		if strings.Contains(header, n) || strings.Contains(n, header) {
			best = max(best, len(n))
		}
	}
	return best
}

func matchFuzzy(header string, names fieldNames) int {
	if len(header) < minFuzzyLen {
		return 0
	}
	best := 0
	candidates := make([]string, 0, len(names.all()))
	for _, n := range names.all() {
		if len(n) < minFuzzyLen {
			continue
		}
		if fuzzy.LevenshteinDistance(header, n) <= maxTypos(n) {
			best = max(best, len(n))
			continue
		}
		candidates = append(candidates, n)
	}

	// Abbreviations: "descr" for description, "cond" for condition.
	for _, rank := range fuzzy.RankFindNormalizedFold(header, candidates) {
		if rank.Target[0] == header[0] && len(header)*2 >= len(rank.Target) {
			best = max(best, len(rank.Target))
		}
	}
	return best
}

func maxTypos(name string) int {
	if len(name) >= 7 {
		return 2
	}
	return 1
}

// InferMapping proposes a mapping for headers. Reserved fields are never
// proposed. Columns no field claims map to "".
func InferMapping(headers []string, schema *Schema) Mapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}

	fields := schema.Mappable()
	names := make([]fieldNames, len(fields))
	for i, f := range fields {
		names[i] = namesFor(f)
	}

	mapping := make(Mapping, len(headers))
	claimed := make(map[string]bool, len(fields))

	for _, tier := range inferenceTiers {
		for col, h := range normalized {
			if mapping[col] != "" || h == "" {
				continue
			}
			best, bestScore := "", 0
			for _, n := range names {
				if claimed[n.key] {
					continue
				}
				if score := tier(h, n); score > bestScore {
					best, bestScore = n.key, score
				}
			}
			if best != "" {
				mapping[col] = best
				claimed[best] = true
			}
		}
	}

	return mapping
}

// ReservedColumns returns the column carrying each reserved field, matched by
// exact key, label or alias. These columns are never imported as data; they
// are read only when a matching strategy asks for them.
func ReservedColumns(headers []string, schema *Schema) map[string]int {
	out := make(map[string]int)
	for _, f := range schema.Reserved() {
		names := namesFor(f)
		for col, h := range headers {
			nh := NormalizeHeader(h)
			if matchExact(nh, names) > 0 || matchAlias(nh, names) > 0 {
				out[f.Key] = col
				break
			}
		}
	}
	return out
}

// ValidateMapping checks a caller-supplied mapping against the headers and
// schema. Every assigned key must be a known, non-reserved field, and no
// field may be assigned to more than one column.
func ValidateMapping(m Mapping, headers []string, schema *Schema) error {
	if len(m) != len(headers) {
		return fmt.Errorf("%w: mapping has %d columns, file has %d", ErrMappingConflict, len(m), len(headers))
	}

	assigned := make(map[string]int, len(m))
	for col, key := range m {
		if key == "" {
			continue
		}
		f, ok := schema.Field(key)
		if !ok {
			return fmt.Errorf("%w: %q (column %q)", ErrUnknownField, key, headers[col])
		}
		if f.Reserved {
			return fmt.Errorf("%w: %q (column %q)", ErrReservedField, key, headers[col])
		}
		if prev, dup := assigned[key]; dup {
			return fmt.Errorf("%w: %q assigned to both %q and %q", ErrMappingConflict, key, headers[prev], headers[col])
		}
		assigned[key] = col
	}
	return nil
}
