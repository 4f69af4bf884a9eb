// Package conflict reconciles disagreeing internal and external versions of
// the same entity using a per-tenant strategy.
package conflict

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
)

// Type classifies how the two sides disagree.
type Type string

const (
	// DataMismatch is the same logical record with diverged field values.
	DataMismatch Type = "data_mismatch"
	// Duplicate is two distinct records that look like the same entity.
	Duplicate Type = "duplicate"
	// DeletedModified is a record deleted on one side and edited on the other.
	DeletedModified Type = "deleted_modified"
)

// DataConflict describes one disagreement handed to the resolver.
type DataConflict struct {
	EntityType   core.EntityType `json:"entityType"`
	EntityID     string          `json:"entityId"`
	OmniData     map[string]any  `json:"omniData"`
	ExternalData map[string]any  `json:"externalData"`
	ConflictType Type            `json:"conflictType"`
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Resolved             map[string]any        `json:"resolved"`
	Strategy             core.ConflictStrategy `json:"strategy"`
	RequiresManualReview bool                  `json:"requiresManualReview"`
}

// Options tune the resolver's review cutoffs.
type Options struct {
	// MergeReviewPercent flags a merge for review when more than this
	// share of fields changed (default 50).
	MergeReviewPercent float64

	// DuplicateSimilarity is the 0-1 field overlap above which two
	// distinct records are classified as duplicates (default 0.8).
	DuplicateSimilarity float64
}

// Resolver applies conflict strategies.
type Resolver struct {
	opts   Options
	logger *logrus.Logger
}

// NewResolver creates a resolver; zero-valued options get defaults.
func NewResolver(opts Options, logger *logrus.Logger) *Resolver {
	if opts.MergeReviewPercent == 0 {
		opts.MergeReviewPercent = 50
	}
	if opts.DuplicateSimilarity == 0 {
		opts.DuplicateSimilarity = 0.8
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{opts: opts, logger: logger}
}

// Resolve reconciles a conflict under the given strategy. An unknown
// strategy falls back to manual, which keeps internal data and flags the
// conflict for review.
func (r *Resolver) Resolve(conflict *DataConflict, strategy core.ConflictStrategy) *Resolution {
	var res *Resolution
	switch strategy {
	case core.NewestWins:
		res = r.resolveNewestWins(conflict)
	case core.OmniWins:
		res = &Resolution{Resolved: conflict.OmniData, Strategy: core.OmniWins}
	case core.ExternalWins:
		res = &Resolution{Resolved: conflict.ExternalData, Strategy: core.ExternalWins}
	case core.Merge:
		res = r.resolveMerge(conflict)
	default:
		res = &Resolution{Resolved: conflict.OmniData, Strategy: core.Manual, RequiresManualReview: true}
	}

	r.logger.WithFields(logrus.Fields{
		"entity":   conflict.EntityType,
		"strategy": res.Strategy,
		"review":   res.RequiresManualReview,
	}).Debug("conflict resolved")
	return res
}

// resolveNewestWins keeps whichever side carries the later modification
// date. No date on either side means the resolver cannot decide and flags
// the conflict for review, keeping internal data.
func (r *Resolver) resolveNewestWins(conflict *DataConflict) *Resolution {
	omniDate, omniOK := extractDate(conflict.OmniData)
	externalDate, externalOK := extractDate(conflict.ExternalData)

	switch {
	case !omniOK && !externalOK:
		return &Resolution{Resolved: conflict.OmniData, Strategy: core.NewestWins, RequiresManualReview: true}
	case !omniOK:
		return &Resolution{Resolved: conflict.ExternalData, Strategy: core.NewestWins}
	case !externalOK:
		return &Resolution{Resolved: conflict.OmniData, Strategy: core.NewestWins}
	case externalDate.After(omniDate):
		return &Resolution{Resolved: conflict.ExternalData, Strategy: core.NewestWins}
	default:
		return &Resolution{Resolved: conflict.OmniData, Strategy: core.NewestWins}
	}
}

// resolveMerge field-merges both sides, flagging the result for review when
// the merge changed more than the configured share of fields.
func (r *Resolver) resolveMerge(conflict *DataConflict) *Resolution {
	merged := mergeObjects(conflict.OmniData, conflict.ExternalData)
	changed := changePercentage(conflict.OmniData, merged)
	return &Resolution{
		Resolved:             merged,
		Strategy:             core.Merge,
		RequiresManualReview: changed > r.opts.MergeReviewPercent,
	}
}

// DetectConflictType classifies the disagreement between two records: same
// id means the same record diverged; distinct ids with high field overlap
// mean a duplicate pair.
func (r *Resolver) DetectConflictType(omniData, externalData map[string]any) Type {
	if id1, ok1 := omniData["id"]; ok1 {
		if id2, ok2 := externalData["id"]; ok2 && deepEqual(id1, id2) {
			return DataMismatch
		}
	}
	if fieldOverlap(omniData, externalData) > r.opts.DuplicateSimilarity {
		return Duplicate
	}
	return DataMismatch
}

// dateFields are probed in order, both at the top level and under a
// metadata sub-object.
var dateFields = []string{
	"updatedAt",
	"updated_at",
	"lastModified",
	"last_modified",
	"modifiedAt",
	"modified_at",
}

// extractDate probes the record for a modification timestamp.
func extractDate(data map[string]any) (time.Time, bool) {
	if data == nil {
		return time.Time{}, false
	}
	meta, _ := data["metadata"].(map[string]any)
	for _, field := range dateFields {
		if t, ok := parseDate(data[field]); ok {
			return t, true
		}
		if meta != nil {
			if t, ok := parseDate(meta[field]); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case *time.Time:
		if d != nil {
			return *d, true
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
	case float64:
		// epoch seconds or milliseconds from decoded JSON
		if d > 1e12 {
			return time.UnixMilli(int64(d)), true
		}
		if d > 0 {
			return time.Unix(int64(d), 0), true
		}
	}
	return time.Time{}, false
}
