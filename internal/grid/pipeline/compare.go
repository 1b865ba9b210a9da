package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Compare is the default comparator used when a column does not supply one.
// It orders nils first, numbers numerically, strings/bools/times by their
// natural order, and anything else by its string form.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// containsFold is the default filter predicate: case-insensitive substring
// match of the arg's string form against the value's string form.
func containsFold(value, arg any) bool {
	if arg == nil {
		return true
	}
	needle := strings.ToLower(strings.TrimSpace(fmt.Sprint(arg)))
	if needle == "" {
		return true
	}
	if value == nil {
		return false
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(value)), needle)
}
