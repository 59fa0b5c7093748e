package sandbox

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Shopify/go-lua"
)

func newState(t *testing.T) *lua.State {
	t.Helper()
	l := lua.NewState()
	lua.OpenLibraries(l)
	return l
}

func roundtrip(t *testing.T, v any) any {
	t.Helper()
	l := newState(t)
	if err := pushValue(l, v, 0, DefaultMaxDepth); err != nil {
		t.Fatalf("pushValue(%#v) error = %v", v, err)
	}
	budget := DefaultMaxValueNodes
	out, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("pullValue error = %v", err)
	}
	return out
}

func TestRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"string", "hello", "hello"},
		{"float", 2.5, 2.5},
		{"int widens", int(7), float64(7)},
		{"int64 widens", int64(-3), float64(-3)},
		{"list", []any{"a", float64(1), false}, []any{"a", float64(1), false}},
		{"empty list collapses to map", []any{}, map[string]any{}},
		{
			"nested map",
			map[string]any{"a": map[string]any{"b": []any{float64(1)}}},
			map[string]any{"a": map[string]any{"b": []any{float64(1)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundtrip(t, tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("roundtrip(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPushValue_RejectsUnsupportedType(t *testing.T) {
	l := newState(t)
	err := pushValue(l, struct{ X int }{1}, 0, DefaultMaxDepth)
	if err == nil || !strings.Contains(err.Error(), "unsupported value type") {
		t.Errorf("pushValue error = %v, want unsupported value type", err)
	}
}

func TestPullValue_BudgetCountsEveryNode(t *testing.T) {
	l := newState(t)
	// One table node plus two elements: three nodes total.
	if err := pushValue(l, []any{"a", "b"}, 0, DefaultMaxDepth); err != nil {
		t.Fatalf("pushValue error = %v", err)
	}

	budget := 3
	if _, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth); err != nil {
		t.Fatalf("pullValue with exact budget error = %v", err)
	}

	budget = 2
	_, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth)
	if !errors.Is(err, errValueTooLarge) {
		t.Errorf("pullValue with short budget error = %v, want errValueTooLarge", err)
	}
}

func TestPullValue_DepthCeiling(t *testing.T) {
	l := newState(t)
	v := map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}}
	if err := pushValue(l, v, 0, DefaultMaxDepth); err != nil {
		t.Fatalf("pushValue error = %v", err)
	}

	budget := DefaultMaxValueNodes
	_, err := pullValue(l, -1, &budget, 0, 1)
	if !errors.Is(err, errValueTooDeep) {
		t.Errorf("pullValue error = %v, want errValueTooDeep", err)
	}
}

func TestPullValue_RejectsFunctions(t *testing.T) {
	l := newState(t)
	if err := lua.DoString(l, "probe = function() end"); err != nil {
		t.Fatalf("DoString error = %v", err)
	}
	l.Global("probe")

	budget := DefaultMaxValueNodes
	_, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth)
	if err == nil || !strings.Contains(err.Error(), "unsupported value of type function") {
		t.Errorf("pullValue error = %v, want unsupported value of type function", err)
	}
}

func TestPullTable_KeyHandling(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want any
	}{
		{"zero index forces map", `{[0] = "z", [1] = "a"}`, map[string]any{"0": "z", "1": "a"}},
		{"negative index forces map", `{[-1] = "n"}`, map[string]any{"-1": "n"}},
		{"gap forces map", `{[1] = "a", [3] = "c"}`, map[string]any{"1": "a", "3": "c"}},
		{"dense run stays a list", `{"a", "b"}`, []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newState(t)
			if err := lua.DoString(l, "t = "+tt.expr); err != nil {
				t.Fatalf("DoString error = %v", err)
			}
			l.Global("t")

			budget := DefaultMaxValueNodes
			got, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth)
			if err != nil {
				t.Fatalf("pullValue error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("pullValue(%s) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestPullTable_RejectsNonScalarKeys(t *testing.T) {
	l := newState(t)
	if err := lua.DoString(l, `t = {[true] = "x"}`); err != nil {
		t.Fatalf("DoString error = %v", err)
	}
	l.Global("t")

	budget := DefaultMaxValueNodes
	_, err := pullValue(l, -1, &budget, 0, DefaultMaxDepth)
	if err == nil || !strings.Contains(err.Error(), "unsupported table key of type boolean") {
		t.Errorf("pullValue error = %v, want unsupported table key", err)
	}
}

func TestDisplayValue(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"string", `"plain"`, "plain"},
		{"integer number", "42", "42"},
		{"fractional number", "2.5", "2.5"},
		{"boolean", "true", "true"},
		{"nil", "nil", "nil"},
		{"list renders as json", `{"a", 1}`, `["a",1]`},
		{"map renders as json", `{k = "v"}`, `{"k":"v"}`},
		{"function is opaque", "function() end", "<value>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newState(t)
			if err := lua.DoString(l, "v = "+tt.expr); err != nil {
				t.Fatalf("DoString error = %v", err)
			}
			l.Global("v")

			if got := displayValue(l, -1, DefaultMaxDepth); got != tt.want {
				t.Errorf("displayValue(%s) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}
