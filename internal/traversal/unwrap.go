package traversal

import (
	"encoding/json"
	"strconv"
)

// UnwrapResults extracts the row list from a decoded OData response body:
// {"value": [...]} (V4), {"d": [...]} (V2 without count), {"d": {"results": [...]}}
// (V2/V3 verbose), a bare array, or a single {"d": {...}} entity. Anything else
// yields nil.
func UnwrapResults(body any) []any {
	switch b := body.(type) {
	case []any:
		return b
	case map[string]any:
		if value, ok := b["value"].([]any); ok {
			return value
		}
		d, ok := b["d"]
		if !ok {
			if _, isEntity := b["@odata.context"]; isEntity {
				return []any{b}
			}
			return nil
		}
		switch dv := d.(type) {
		case []any:
			return dv
		case map[string]any:
			if results, ok := dv[keyResults].([]any); ok {
				return results
			}
			return []any{dv}
		}
	}
	return nil
}

// Count returns the total count reported by the server, if any: "@odata.count" (V4),
// "odata.count" (V3 light JSON) or "d.__count" (V2/V3 verbose).
func Count(body any) (int64, bool) {
	b, ok := body.(map[string]any)
	if !ok {
		return 0, false
	}
	for _, key := range []string{"@odata.count", "odata.count"} {
		if n, ok := toInt64(b[key]); ok {
			return n, true
		}
	}
	if d, ok := b["d"].(map[string]any); ok {
		return toInt64(d["__count"])
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		// V2 serializes __count as a string.
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
