package inspector

// MergeStates deterministically combines the states produced by two
// independently processed partitions. It is pure: neither input is mutated
// and shared substructure is never returned.
//
// Rules, applied in order:
//
//  1. nil is the identity: merge(nil, x) = x, merge(x, nil) = x.
//  2. Two lists concatenate, base elements first.
//  3. Two numbers sum (counters accumulate across partitions).
//  4. Two maps merge recursively per key; keys present on only one side
//     are kept.
//  5. Anything else, incoming wins outright ("last write wins").
//
// Rule 5 makes list/non-list combinations asymmetric: a scalar incoming
// over a list base discards the list, and a list incoming over a scalar
// base discards the scalar. That asymmetry is load-bearing for existing
// projections and covered by tests; do not "fix" it here.
func MergeStates(base, incoming any) any {
	if base == nil {
		return CloneValue(incoming)
	}
	if incoming == nil {
		return CloneValue(base)
	}

	if baseList, ok := base.([]any); ok {
		if incomingList, ok := incoming.([]any); ok {
			out := make([]any, 0, len(baseList)+len(incomingList))
			for _, v := range baseList {
				out = append(out, CloneValue(v))
			}
			for _, v := range incomingList {
				out = append(out, CloneValue(v))
			}
			return out
		}
		return CloneValue(incoming)
	}

	if baseNum, ok := asNumber(base); ok {
		if incomingNum, ok := asNumber(incoming); ok {
			return baseNum + incomingNum
		}
		return CloneValue(incoming)
	}

	if baseMap, ok := base.(map[string]any); ok {
		if incomingMap, ok := incoming.(map[string]any); ok {
			out := make(map[string]any, len(baseMap)+len(incomingMap))
			for k, v := range baseMap {
				out[k] = CloneValue(v)
			}
			for k, v := range incomingMap {
				if existing, found := out[k]; found {
					out[k] = MergeStates(existing, v)
				} else {
					out[k] = CloneValue(v)
				}
			}
			return out
		}
		return CloneValue(incoming)
	}

	return CloneValue(incoming)
}

// asNumber reports whether v is a plain numeric value. Booleans and strings
// are deliberately excluded; they follow the last-write-wins rule.
func asNumber(v any) (float64, bool) {
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
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
