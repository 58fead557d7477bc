package traversal

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odatalens/odatalens/internal/metadata"
)

// FallbackKeyNames are tried in order when the entity type declares no key.
var FallbackKeyNames = []string{"ID", "Id", "id", "Uuid", "UUID", "Guid", "Key"}

// KeyNames returns the key properties used to address item: the declared keys of
// entityType, or the first conventional key name present on the item.
func KeyNames(item map[string]any, entityType *metadata.EntityType) []string {
	if entityType != nil && len(entityType.Keys) > 0 {
		return entityType.Keys
	}
	for _, k := range FallbackKeyNames {
		if _, ok := item[k]; ok {
			return []string{k}
		}
	}
	return nil
}

// KeyPredicate builds the key segment for item, "(ID=5)" for a single key and
// "(CustomerID='A',OrderID=7)" for composite keys in declared order. It reports false
// when no key is known or a key value is missing or not a scalar; such rows must not
// be mutated.
func KeyPredicate(item map[string]any, entityType *metadata.EntityType) (string, bool) {
	if item == nil {
		return "", false
	}
	keys := KeyNames(item, entityType)
	if len(keys) == 0 {
		return "", false
	}

	if len(keys) == 1 {
		lit, ok := FormatLiteral(item[keys[0]])
		if !ok {
			return "", false
		}
		return "(" + keys[0] + "=" + lit + ")", true
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		lit, ok := FormatLiteral(item[k])
		if !ok {
			return "", false
		}
		parts = append(parts, k+"="+lit)
	}
	return "(" + strings.Join(parts, ",") + ")", true
}

// FormatLiteral renders a key value as a URL literal. Strings are single quoted with
// embedded quotes doubled. Numbers are written in plain decimal notation.
func FormatLiteral(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return "", false
		}
		return d.String(), true
	case float64:
		return decimal.NewFromFloat(val).String(), true
	case float32:
		return decimal.NewFromFloat32(val).String(), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case decimal.Decimal:
		return val.String(), true
	}
	return "", false
}
