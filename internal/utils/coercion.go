package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ToInt64 accepts the integer shapes a decoded payload can carry (Go ints,
// JSON float64 and json.Number). Fractional numbers and numbers outside the
// int64 range are rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n >= float64(math.MaxInt64) || n < float64(math.MinInt64) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// ToScalarString converts strings and numbers to their string form. It returns
// false for nil and for non-scalar values.
func ToScalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case nil:
		return "", false
	}
	if i, ok := ToInt64(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// ToStringSlice flattens a scalar or any slice into strings, dropping duplicates
// while keeping first-seen order.
func ToStringSlice(v any) []string {
	var items []any
	switch s := v.(type) {
	case nil:
		return []string{}
	case []string:
		for _, item := range s {
			items = append(items, item)
		}
	case []any:
		items = s
	default:
		items = []any{v}
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := ToScalarString(item)
		if !ok {
			str = fmt.Sprint(item)
		}
		if _, dup := seen[str]; dup {
			continue
		}
		seen[str] = struct{}{}
		out = append(out, str)
	}
	return out
}
