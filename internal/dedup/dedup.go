// Package dedup implements fuzzy duplicate detection between inbound
// external records and existing internal records. Identity signals are
// weighted and combined per candidate; the best candidate decides the
// match outcome.
package dedup

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
)

// Candidate is one existing record scored against the search data.
type Candidate struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Data   map[string]any `json:"data"`
	Reason string         `json:"reason"`
}

// MatchResult is the outcome of a duplicate search.
type MatchResult struct {
	Matched     bool             `json:"matched"`
	MatchScore  float64          `json:"matchScore"`
	MatchMethod core.MatchMethod `json:"matchMethod"`
	CandidateID string           `json:"candidateId,omitempty"`
	Candidates  []Candidate      `json:"candidates"`
}

// Options tune the engine's score cutoffs.
type Options struct {
	// CandidateThreshold is the weighted score a candidate must exceed to
	// be kept at all (default 50).
	CandidateThreshold float64

	// MatchThreshold is the score at or above which the best candidate is
	// declared a match (default 80).
	MatchThreshold float64
}

// Engine scores candidate records against inbound data.
type Engine struct {
	opts   Options
	logger *logrus.Logger
}

// NewEngine creates a deduplication engine; zero-valued options get the
// default 50/80 cutoffs.
func NewEngine(opts Options, logger *logrus.Logger) *Engine {
	if opts.CandidateThreshold == 0 {
		opts.CandidateThreshold = 50
	}
	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = 80
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{opts: opts, logger: logger}
}

// FindMatches scores every candidate against searchData and returns the
// ranked list plus the match decision for the best one. Per-candidate score
// is the maximum of the weighted signals: email x1.0, tax id x1.0,
// phone x0.9, name similarity x0.7.
func (e *Engine) FindMatches(ctx context.Context, entity core.EntityType, searchData map[string]any, candidates []map[string]any) (*MatchResult, error) {
	if len(candidates) == 0 {
		return &MatchResult{MatchMethod: core.MatchExactEmail, Candidates: []Candidate{}}, nil
	}

	scored := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		emailScore := matchByEmail(searchData, candidate)
		phoneScore := matchByPhone(searchData, candidate)
		taxIDScore := matchByTaxID(searchData, candidate)
		nameScore := matchByName(searchData, candidate)

		weighted := maxFloat(
			emailScore*1.0,
			phoneScore*0.9,
			taxIDScore*1.0,
			nameScore*0.7,
		)
		if weighted <= e.opts.CandidateThreshold {
			continue
		}

		id, _ := candidate["id"].(string)
		scored = append(scored, Candidate{
			ID:     id,
			Score:  weighted,
			Data:   candidate,
			Reason: matchReason(emailScore, phoneScore, nameScore, taxIDScore),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) == 0 {
		return &MatchResult{MatchMethod: core.MatchExactEmail, Candidates: []Candidate{}}, nil
	}

	best := scored[0]
	result := &MatchResult{
		Matched:     best.Score >= e.opts.MatchThreshold,
		MatchScore:  best.Score,
		MatchMethod: determineMatchMethod(searchData, best.Data),
		CandidateID: best.ID,
		Candidates:  scored,
	}

	e.logger.WithFields(logrus.Fields{
		"entity":     entity,
		"matched":    result.Matched,
		"score":      result.MatchScore,
		"method":     result.MatchMethod,
		"candidates": len(scored),
	}).Debug("deduplication scan complete")
	return result, nil
}

// determineMatchMethod picks the strongest signal that links the two
// records, in fixed priority order.
func determineMatchMethod(a, b map[string]any) core.MatchMethod {
	switch {
	case matchByEmail(a, b) == 100:
		return core.MatchExactEmail
	case matchByTaxID(a, b) == 100:
		return core.MatchTaxID
	case matchByPhone(a, b) == 100:
		return core.MatchPhone
	case matchByName(a, b) >= 80:
		return core.MatchFuzzyName
	default:
		return core.MatchManual
	}
}

func maxFloat(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
