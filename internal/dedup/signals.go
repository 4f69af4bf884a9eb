package dedup

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity signal scorers. Each returns 0-100 for one pair of records;
// exact signals are all-or-nothing, name similarity is graded.

func matchByEmail(a, b map[string]any) float64 {
	e1 := normalizeEmail(stringField(a, "email", "contactEmail"))
	e2 := normalizeEmail(stringField(b, "email", "contactEmail"))
	if e1 == "" || e2 == "" {
		return 0
	}
	if e1 == e2 {
		return 100
	}
	return 0
}

func matchByPhone(a, b map[string]any) float64 {
	p1 := digitsOnly(stringField(a, "phone", "contactPhone"))
	p2 := digitsOnly(stringField(b, "phone", "contactPhone"))
	if p1 == "" || p2 == "" {
		return 0
	}
	if p1 == p2 {
		return 100
	}
	return 0
}

func matchByTaxID(a, b map[string]any) float64 {
	t1 := digitsOnly(stringField(a, "taxId"))
	t2 := digitsOnly(stringField(b, "taxId"))
	if t1 == "" || t2 == "" {
		return 0
	}
	if t1 == t2 {
		return 100
	}
	return 0
}

// matchByName compares normalized names, blending in company similarity
// (70/30) when both records carry one.
func matchByName(a, b map[string]any) float64 {
	n1 := NormalizeName(stringField(a, "name"))
	n2 := NormalizeName(stringField(b, "name"))
	if n1 == "" || n2 == "" {
		return 0
	}

	nameSim := StringSimilarity(n1, n2)

	c1 := NormalizeName(stringField(a, "companyName", "company"))
	c2 := NormalizeName(stringField(b, "companyName", "company"))
	if c1 != "" && c2 != "" {
		return nameSim*0.7 + StringSimilarity(c1, c2)*0.3
	}
	return nameSim
}

func matchReason(emailScore, phoneScore, nameScore, taxIDScore float64) string {
	var reasons []string
	if emailScore == 100 {
		reasons = append(reasons, "exact email")
	}
	if taxIDScore == 100 {
		reasons = append(reasons, "exact tax id")
	}
	if phoneScore == 100 {
		reasons = append(reasons, "exact phone")
	}
	if nameScore >= 80 {
		reasons = append(reasons, fmt.Sprintf("similar name (%.0f%%)", nameScore))
	}
	if len(reasons) == 0 {
		return "manual match"
	}
	return strings.Join(reasons, ", ")
}

// StringSimilarity scores two strings 0-100 by Levenshtein distance
// relative to the longer string.
func StringSimilarity(s1, s2 string) float64 {
	longer, shorter := s1, s2
	if len(s2) > len(s1) {
		longer, shorter = s2, s1
	}
	if len(longer) == 0 {
		return 100
	}
	distance := levenshtein(longer, shorter)
	return float64(len(longer)-distance) / float64(len(longer)) * 100
}

// levenshtein computes the edit distance between two strings using a
// rolling two-row matrix.
func levenshtein(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)

	prev := make([]int, len(r1)+1)
	curr := make([]int, len(r1)+1)
	for j := 0; j <= len(r1); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(r2); i++ {
		curr[0] = i
		for j := 1; j <= len(r1); j++ {
			if r2[i-1] == r1[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = minInt(prev[j-1]+1, curr[j-1]+1, prev[j]+1)
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(r1)]
}

var nameStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName casefolds, strips diacritics, replaces non-alphanumerics
// with spaces and collapses runs of whitespace, so accent and punctuation
// variants of a name compare equal. Idempotent.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	lowered := strings.ToLower(strings.TrimSpace(name))
	stripped, _, err := transform.String(nameStripper, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stringField returns the first non-empty string under any of the keys.
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
