package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Shopify/go-lua"
)

// Boundary errors. Both surface to callers as value-limit faults.
var (
	errValueTooDeep  = errors.New("value exceeds depth ceiling")
	errValueTooLarge = errors.New("value exceeds size ceiling")
)

// pushValue marshals a plain Go value tree onto the Lua stack. Only the
// interchange shapes cross the boundary: nil, bool, string, numbers, []any
// and map[string]any. time.Time collapses to an RFC 3339 string.
//
// On error the stack may hold partial values; callers restore the stack
// top themselves.
func pushValue(l *lua.State, v any, depth, maxDepth int) error {
	if depth > maxDepth {
		return errValueTooDeep
	}

	switch t := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(t)
	case string:
		l.PushString(t)
	case float64:
		l.PushNumber(t)
	case float32:
		l.PushNumber(float64(t))
	case int:
		l.PushNumber(float64(t))
	case int32:
		l.PushNumber(float64(t))
	case int64:
		l.PushNumber(float64(t))
	case uint64:
		l.PushNumber(float64(t))
	case time.Time:
		l.PushString(t.UTC().Format(time.RFC3339Nano))
	case []any:
		l.CreateTable(len(t), 0)
		for i, e := range t {
			l.PushNumber(float64(i + 1))
			if err := pushValue(l, e, depth+1, maxDepth); err != nil {
				return err
			}
			l.SetTable(-3)
		}
	case map[string]any:
		l.CreateTable(0, len(t))
		for k, e := range t {
			if err := pushValue(l, e, depth+1, maxDepth); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// pullValue unmarshals the value at index into a fresh Go value tree.
// budget is decremented per node; exhausting it (or the depth ceiling)
// aborts the pull. This bound doubles as the sandbox's memory ceiling at
// the boundary: a script cannot hand back an unbounded state.
func pullValue(l *lua.State, index int, budget *int, depth, maxDepth int) (any, error) {
	if depth > maxDepth {
		return nil, errValueTooDeep
	}
	if *budget <= 0 {
		return nil, errValueTooLarge
	}
	*budget--

	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n, nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeTable:
		return pullTable(l, index, budget, depth, maxDepth)
	default:
		return nil, fmt.Errorf("unsupported value of type %s", typeName(l.TypeOf(index)))
	}
}

func typeName(t lua.Type) string {
	switch t {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return "boolean"
	case lua.TypeNumber:
		return "number"
	case lua.TypeString:
		return "string"
	case lua.TypeTable:
		return "table"
	case lua.TypeFunction:
		return "function"
	case lua.TypeUserData:
		return "userdata"
	case lua.TypeThread:
		return "thread"
	default:
		return "unknown"
	}
}

// pullTable converts a Lua table into either an ordered list (keys are
// exactly 1..n) or a string-keyed map. An empty table becomes an empty
// map; scripts that want an empty list should grow one from events.
func pullTable(l *lua.State, index int, budget *int, depth, maxDepth int) (any, error) {
	t := l.AbsIndex(index)

	// First pass: classify.
	count := 0
	maxIndex := 0
	isList := true
	l.PushNil()
	for l.Next(t) {
		count++
		if isList {
			if l.TypeOf(-2) == lua.TypeNumber {
				k, _ := l.ToNumber(-2)
				if k == math.Trunc(k) && k >= 1 {
					if int(k) > maxIndex {
						maxIndex = int(k)
					}
				} else {
					isList = false
				}
			} else {
				isList = false
			}
		}
		l.Pop(1)
	}
	isList = isList && count > 0 && maxIndex == count

	if isList {
		out := make([]any, maxIndex)
		l.PushNil()
		for l.Next(t) {
			k, _ := l.ToNumber(-2)
			v, err := pullValue(l, -1, budget, depth+1, maxDepth)
			if err != nil {
				l.Pop(2)
				return nil, err
			}
			out[int(k)-1] = v
			l.Pop(1)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	l.PushNil()
	for l.Next(t) {
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			// Reading the key with ToString is safe here because the key
			// already is a string; converting other types in place would
			// corrupt table traversal.
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			k, _ := l.ToNumber(-2)
			key = strconv.FormatFloat(k, 'g', -1, 64)
		default:
			kind := typeName(l.TypeOf(-2))
			l.Pop(2)
			return nil, fmt.Errorf("unsupported table key of type %s", kind)
		}

		v, err := pullValue(l, -1, budget, depth+1, maxDepth)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		out[key] = v
		l.Pop(1)
	}
	return out, nil
}

// displayValue renders one console argument for the captured log buffer.
func displayValue(l *lua.State, index int, maxDepth int) string {
	budget := 1000
	v, err := pullValue(l, index, &budget, 0, maxDepth)
	if err != nil {
		return "<value>"
	}
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
