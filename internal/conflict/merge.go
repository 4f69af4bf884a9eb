package conflict

// Field-level merge machinery. External values fill internal gaps; when
// both sides carry a value, mergeValue decides per type.

import "reflect"

func mergeObjects(omniData, externalData map[string]any) map[string]any {
	merged := make(map[string]any, len(omniData)+len(externalData))
	for k, v := range omniData {
		merged[k] = v
	}

	for key, externalValue := range externalData {
		if isEmpty(externalValue) {
			continue
		}
		omniValue, exists := omniData[key]
		if !exists || isEmpty(omniValue) {
			merged[key] = externalValue
		} else {
			merged[key] = mergeValue(omniValue, externalValue)
		}
	}
	return merged
}

// mergeValue picks a winner when both sides carry a value: later date,
// deduplicated array union, recursive map merge, larger number, longer
// string; anything else keeps the internal value.
func mergeValue(omniValue, externalValue any) any {
	if od, ok1 := parseDate(omniValue); ok1 {
		if ed, ok2 := parseDate(externalValue); ok2 {
			if ed.After(od) {
				return externalValue
			}
			return omniValue
		}
	}

	if oa, ok1 := omniValue.([]any); ok1 {
		if ea, ok2 := externalValue.([]any); ok2 {
			return unionArrays(oa, ea)
		}
	}

	if om, ok1 := omniValue.(map[string]any); ok1 {
		if em, ok2 := externalValue.(map[string]any); ok2 {
			return mergeObjects(om, em)
		}
	}

	if on, ok1 := toFloat(omniValue); ok1 {
		if en, ok2 := toFloat(externalValue); ok2 {
			if en > on {
				return externalValue
			}
			return omniValue
		}
	}

	if os, ok1 := omniValue.(string); ok1 {
		if es, ok2 := externalValue.(string); ok2 {
			if len(es) > len(os) {
				return es
			}
			return os
		}
	}

	return omniValue
}

// unionArrays appends external elements not already present, preserving
// internal order first.
func unionArrays(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	out = append(out, a...)
	for _, v := range b {
		found := false
		for _, existing := range out {
			if deepEqual(existing, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

// changePercentage is the share of fields (union of both key sets) whose
// values differ between the two records, 0-100.
func changePercentage(original, updated map[string]any) float64 {
	keys := make(map[string]struct{}, len(original)+len(updated))
	for k := range original {
		keys[k] = struct{}{}
	}
	for k := range updated {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 0
	}

	changed := 0
	for k := range keys {
		if !deepEqual(original[k], updated[k]) {
			changed++
		}
	}
	return float64(changed) / float64(len(keys)) * 100
}

// fieldOverlap is the share of fields with deep-equal values, 0-1.
func fieldOverlap(a, b map[string]any) float64 {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 0
	}

	matches := 0
	for k := range keys {
		if deepEqual(a[k], b[k]) {
			matches++
		}
	}
	return float64(matches) / float64(len(keys))
}

func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if aa, ok := a.([]any); ok {
		bb, ok := b.([]any)
		if !ok || len(aa) != len(bb) {
			return false
		}
		for i := range aa {
			if !deepEqual(aa[i], bb[i]) {
				return false
			}
		}
		return true
	}

	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, exists := bm[k]
			if !exists || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	// Numbers decoded from JSON may arrive as different concrete types.
	if af, ok1 := toFloat(a); ok1 {
		if bf, ok2 := toFloat(b); ok2 {
			return af == bf
		}
		return false
	}

	// Plugin-built data can carry uncomparable types (typed slices, maps)
	// that == would panic on.
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
