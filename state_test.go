package inspector

import (
	"reflect"
	"testing"
)

func TestCloneValue_DeepCopies(t *testing.T) {
	orig := map[string]any{
		"list": []any{float64(1), map[string]any{"k": "v"}},
		"s":    "str",
	}

	clone := CloneValue(orig).(map[string]any)
	clone["list"].([]any)[1].(map[string]any)["k"] = "changed"

	if orig["list"].([]any)[1].(map[string]any)["k"] != "v" {
		t.Error("CloneValue shared nested substructure with the original")
	}
}

func TestSanitizeState_StripsUnderscoreKeys(t *testing.T) {
	state := map[string]any{
		"visible": float64(1),
		"_seen":   map[string]any{"a": true},
		"nested": map[string]any{
			"_scratch": "x",
			"kept":     "y",
		},
		"list": []any{
			map[string]any{"_hidden": 1, "shown": 2},
		},
	}

	got := SanitizeState(state)
	want := map[string]any{
		"visible": float64(1),
		"nested":  map[string]any{"kept": "y"},
		"list": []any{
			map[string]any{"shown": 2},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizeState = %v, want %v", got, want)
	}

	// Original must be untouched.
	if _, ok := state["_seen"]; !ok {
		t.Error("SanitizeState mutated its input")
	}
}

func TestSanitizeState_NonMapPassthrough(t *testing.T) {
	if got := SanitizeState("plain"); got != "plain" {
		t.Errorf("SanitizeState(string) = %v", got)
	}
	if got := SanitizeState(nil); got != nil {
		t.Errorf("SanitizeState(nil) = %v", got)
	}
}

func TestChangedKeys(t *testing.T) {
	tests := []struct {
		name string
		prev any
		cur  any
		want []string
	}{
		{
			name: "single key changed",
			prev: map[string]any{"a": float64(1), "b": "x"},
			cur:  map[string]any{"a": float64(2), "b": "x"},
			want: []string{"a"},
		},
		{
			name: "added and removed keys",
			prev: map[string]any{"gone": float64(1), "same": "s"},
			cur:  map[string]any{"new": float64(1), "same": "s"},
			want: []string{"gone", "new"},
		},
		{
			name: "no changes",
			prev: map[string]any{"a": []any{float64(1)}},
			cur:  map[string]any{"a": []any{float64(1)}},
			want: nil,
		},
		{
			name: "equivalent numeric types are equal",
			prev: map[string]any{"n": int(3)},
			cur:  map[string]any{"n": float64(3)},
			want: nil,
		},
		{
			name: "non-map values differ",
			prev: "a",
			cur:  "b",
			want: []string{"."},
		},
		{
			name: "non-map values equal",
			prev: "a",
			cur:  "a",
			want: nil,
		},
		{
			name: "nil to map reports all keys",
			prev: nil,
			cur:  map[string]any{"a": float64(1)},
			want: []string{"."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangedKeys(tt.prev, tt.cur)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChangedKeys = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateEventCount(t *testing.T) {
	if n, ok := stateEventCount(map[string]any{"eventCount": float64(12)}); !ok || n != 12 {
		t.Errorf("stateEventCount = %v, %v", n, ok)
	}
	if _, ok := stateEventCount(map[string]any{"other": float64(1)}); ok {
		t.Error("expected no eventCount")
	}
	if _, ok := stateEventCount("not a map"); ok {
		t.Error("expected no eventCount for non-map state")
	}
}
