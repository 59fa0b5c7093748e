package inspector

import (
	"reflect"
	"testing"
)

func TestMergeStates_NilIdentity(t *testing.T) {
	tests := []struct {
		name     string
		base     any
		incoming any
		want     any
	}{
		{"nil base", nil, map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
		{"nil incoming", map[string]any{"a": float64(1)}, nil, map[string]any{"a": float64(1)}},
		{"both nil", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeStates(tt.base, tt.incoming)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeStates(%v, %v) = %v, want %v", tt.base, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestMergeStates_ListsConcatenate(t *testing.T) {
	base := []any{float64(1), float64(2)}
	incoming := []any{float64(3)}

	got := MergeStates(base, incoming)
	want := []any{float64(1), float64(2), float64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeStates = %v, want %v", got, want)
	}
}

func TestMergeStates_NumbersSum(t *testing.T) {
	got := MergeStates(float64(5), float64(3))
	if got != float64(8) {
		t.Errorf("MergeStates(5, 3) = %v, want 8", got)
	}

	// Mixed Go numeric types still sum.
	got = MergeStates(int(5), float64(2.5))
	if got != float64(7.5) {
		t.Errorf("MergeStates(5, 2.5) = %v, want 7.5", got)
	}
}

func TestMergeStates_MapsMergeRecursively(t *testing.T) {
	base := map[string]any{
		"count": float64(2),
		"only":  "base",
		"nested": map[string]any{
			"items": []any{"a"},
		},
	}
	incoming := map[string]any{
		"count": float64(3),
		"other": "incoming",
		"nested": map[string]any{
			"items": []any{"b"},
			"flag":  true,
		},
	}

	got := MergeStates(base, incoming)
	want := map[string]any{
		"count": float64(5),
		"only":  "base",
		"other": "incoming",
		"nested": map[string]any{
			"items": []any{"a", "b"},
			"flag":  true,
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeStates = %v, want %v", got, want)
	}
}

// Scalar incoming over a list base discards the list; this asymmetry is
// long-standing behavior that projections rely on.
func TestMergeStates_ListScalarAsymmetry(t *testing.T) {
	got := MergeStates(map[string]any{"x": []any{float64(1), float64(2)}}, map[string]any{"x": float64(1)})
	m := got.(map[string]any)
	if m["x"] != float64(1) {
		t.Errorf("scalar over list: x = %v, want 1", m["x"])
	}

	got = MergeStates(map[string]any{"x": float64(1)}, map[string]any{"x": []any{float64(2)}})
	m = got.(map[string]any)
	if !reflect.DeepEqual(m["x"], []any{float64(2)}) {
		t.Errorf("list over scalar: x = %v, want [2]", m["x"])
	}
}

func TestMergeStates_LastWriteWins(t *testing.T) {
	tests := []struct {
		name     string
		base     any
		incoming any
		want     any
	}{
		{"strings", "old", "new", "new"},
		{"bools", true, false, false},
		{"string over number", float64(1), "s", "s"},
		{"map over string", "s", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
		{"bool over bool does not sum", true, true, true},
		// Date strings are ordinary strings: incoming wins even when the
		// base is the later date.
		{"date strings", "2026-05-01T00:00:00Z", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeStates(tt.base, tt.incoming)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeStates(%v, %v) = %v, want %v", tt.base, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestMergeStates_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"list": []any{float64(1)}, "n": float64(1)}
	incoming := map[string]any{"list": []any{float64(2)}, "n": float64(2)}

	got := MergeStates(base, incoming)

	// Mutate the result; the inputs must be unaffected.
	gm := got.(map[string]any)
	gm["list"].([]any)[0] = float64(99)
	gm["n"] = float64(99)

	if base["list"].([]any)[0] != float64(1) || base["n"] != float64(1) {
		t.Errorf("base mutated: %v", base)
	}
	if incoming["list"].([]any)[0] != float64(2) || incoming["n"] != float64(2) {
		t.Errorf("incoming mutated: %v", incoming)
	}
}

func TestMergeStates_Associativity(t *testing.T) {
	// For the counter/list/map shapes the merge is associative; three
	// partition results must fold to the same state in either grouping.
	a := map[string]any{"count": float64(1), "ids": []any{"a"}}
	b := map[string]any{"count": float64(2), "ids": []any{"b"}}
	c := map[string]any{"count": float64(3), "ids": []any{"c"}}

	left := MergeStates(MergeStates(a, b), c)
	right := MergeStates(a, MergeStates(b, c))
	if !reflect.DeepEqual(left, right) {
		t.Errorf("grouping changed result: %v vs %v", left, right)
	}
}
