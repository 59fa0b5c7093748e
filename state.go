package inspector

import (
	"sort"
	"strings"
)

// CloneValue deep-copies a plain value tree (maps, lists, scalars).
// Values outside the interchange shape are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// SanitizeState returns a copy of state with every map key starting with
// "_" stripped, recursively. Underscore-prefixed keys are the script's
// private scratch space and never leave the engine.
func SanitizeState(state any) any {
	switch t := state.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if strings.HasPrefix(k, "_") {
				continue
			}
			out[k] = SanitizeState(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = SanitizeState(v)
		}
		return out
	default:
		return state
	}
}

// ChangedKeys returns the sorted top-level map keys whose values differ
// between two states. When either state is not a map, it returns a single
// "." entry if the values differ at all.
func ChangedKeys(prev, cur any) []string {
	prevMap, prevOK := prev.(map[string]any)
	curMap, curOK := cur.(map[string]any)
	if !prevOK || !curOK {
		if valuesEqual(prev, cur) {
			return nil
		}
		return []string{"."}
	}

	seen := make(map[string]struct{}, len(prevMap)+len(curMap))
	var keys []string
	for k := range prevMap {
		seen[k] = struct{}{}
	}
	for k := range curMap {
		seen[k] = struct{}{}
	}
	for k := range seen {
		if !valuesEqual(prevMap[k], curMap[k]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, found := bv[k]
			if !found || !valuesEqual(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !valuesEqual(v, bv[i]) {
				return false
			}
		}
		return true
	default:
		if an, ok := asNumber(a); ok {
			bn, ok := asNumber(b)
			return ok && an == bn
		}
		return a == b
	}
}

// stateEventCount extracts a numeric "eventCount" field when the user's
// state happens to track one. Used only for discrepancy diagnostics.
func stateEventCount(state any) (float64, bool) {
	m, ok := state.(map[string]any)
	if !ok {
		return 0, false
	}
	return asNumber(m["eventCount"])
}
