package dedup

import (
	"context"
	"testing"

	"github.com/omniplat/sync-core/internal/core"
)

func newTestEngine() *Engine {
	return NewEngine(Options{}, nil)
}

func find(t *testing.T, search map[string]any, candidates ...map[string]any) *MatchResult {
	t.Helper()
	res, err := newTestEngine().FindMatches(context.Background(), core.EntityContact, search, candidates)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	return res
}

func TestNoCandidates(t *testing.T) {
	res := find(t, map[string]any{"email": "a@b.c"})
	if res.Matched || res.MatchScore != 0 || len(res.Candidates) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestExactEmailMatch(t *testing.T) {
	res := find(t,
		map[string]any{"email": "Ana.Silva@Example.com", "name": "Ana"},
		map[string]any{"id": "c1", "email": "ana.silva@example.com", "name": "Completely Different"},
	)
	if !res.Matched {
		t.Fatal("expected match on normalized email")
	}
	if res.MatchScore != 100 {
		t.Fatalf("score = %v, want 100", res.MatchScore)
	}
	if res.MatchMethod != core.MatchExactEmail {
		t.Fatalf("method = %s, want exact_email", res.MatchMethod)
	}
	if res.CandidateID != "c1" {
		t.Fatalf("candidate = %s", res.CandidateID)
	}
}

func TestMatchMethodPriority(t *testing.T) {
	// Email and tax id both exact: email wins.
	res := find(t,
		map[string]any{"email": "a@b.c", "taxId": "123.456.789-09"},
		map[string]any{"id": "c1", "email": "a@b.c", "taxId": "12345678909"},
	)
	if res.MatchMethod != core.MatchExactEmail {
		t.Fatalf("method = %s, want exact_email", res.MatchMethod)
	}

	// Tax id beats phone.
	res = find(t,
		map[string]any{"taxId": "12345678909", "phone": "+55 11 91234-5678"},
		map[string]any{"id": "c2", "taxId": "123.456.789-09", "phone": "5511912345678"},
	)
	if res.MatchMethod != core.MatchTaxID {
		t.Fatalf("method = %s, want tax_id", res.MatchMethod)
	}
}

func TestPhoneMatchIsWeighted(t *testing.T) {
	res := find(t,
		map[string]any{"phone": "(11) 91234-5678"},
		map[string]any{"id": "c1", "phone": "11912345678"},
	)
	if !res.Matched {
		t.Fatal("expected phone match")
	}
	if res.MatchScore != 90 {
		t.Fatalf("score = %v, want 90 (phone weight 0.9)", res.MatchScore)
	}
	if res.MatchMethod != core.MatchPhone {
		t.Fatalf("method = %s", res.MatchMethod)
	}
}

func TestFuzzyNameBelowMatchThreshold(t *testing.T) {
	// Identical names score 100 raw but only 70 weighted: a candidate,
	// not a match.
	res := find(t,
		map[string]any{"name": "João da Silva"},
		map[string]any{"id": "c1", "name": "Joao da Silva!"},
	)
	if res.Matched {
		t.Fatal("name-only identity must not auto-match")
	}
	if res.MatchScore != 70 {
		t.Fatalf("score = %v, want 70", res.MatchScore)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected review candidate, got %d", len(res.Candidates))
	}
}

func TestWeakCandidatesDiscarded(t *testing.T) {
	res := find(t,
		map[string]any{"name": "Ana Souza", "email": "ana@x.com"},
		map[string]any{"id": "c1", "name": "Zygmunt Brzezinski", "email": "zb@y.com"},
	)
	if res.Matched || len(res.Candidates) != 0 {
		t.Fatalf("expected weak candidate discarded, got %+v", res)
	}
}

func TestCandidatesSortedByScore(t *testing.T) {
	res := find(t,
		map[string]any{"email": "ana@x.com", "phone": "11912345678"},
		map[string]any{"id": "weak", "phone": "11912345678"},
		map[string]any{"id": "strong", "email": "ana@x.com"},
	)
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].ID != "strong" || res.Candidates[1].ID != "weak" {
		t.Fatalf("wrong order: %s, %s", res.Candidates[0].ID, res.Candidates[1].ID)
	}
	if res.CandidateID != "strong" {
		t.Fatalf("best candidate = %s", res.CandidateID)
	}
}

func TestStringSimilarity(t *testing.T) {
	if got := StringSimilarity("abc", "abc"); got != 100 {
		t.Errorf("identical strings = %v, want 100", got)
	}
	if got := StringSimilarity("", ""); got != 100 {
		t.Errorf("empty strings = %v, want 100", got)
	}
	if got := StringSimilarity("abcd", "abce"); got != 75 {
		t.Errorf("one edit in four = %v, want 75", got)
	}
	// Symmetry
	a, b := "maria fernanda", "maria fernando"
	if StringSimilarity(a, b) != StringSimilarity(b, a) {
		t.Error("similarity must be symmetric")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  João  da  Silva ", "joao da silva"},
		{"ACME Ltda.", "acme ltda"},
		{"Café & Cia", "cafe cia"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	once := NormalizeName("José-Maria  D'Ávila")
	if twice := NormalizeName(once); twice != once {
		t.Errorf("second pass changed value: %q -> %q", once, twice)
	}
}
