// Package mutation turns selected or edited rows into OData write requests: it
// plans DELETE, PATCH and POST requests against resolved entity URLs, builds
// version-correct payloads, and executes plans one request at a time or as a
// single $batch.
package mutation

import (
	"strings"

	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/version"
)

// payloadStripKeys never travel to the server in a write payload.
var payloadStripKeys = []string{
	"__metadata",
	"__deferred",
	"__selected",
	"@odata.context",
	"@odata.etag",
}

// BuildPayload returns the body for an update or create. changes is deep copied,
// protocol and UI keys are removed, and the entity type is injected the way the
// protocol version expects: "@odata.type": "#NS.Type" for V4 and
// "__metadata": {"type": "NS.Type"} otherwise. The type is taken from the original
// row when it carries one, else from schema and entityType. original may be nil.
func BuildPayload(original, changes map[string]any, v version.Version, schema *metadata.ParsedSchema, entityType *metadata.EntityType) map[string]any {
	payload := deepCopyMap(changes)
	for _, k := range payloadStripKeys {
		delete(payload, k)
	}

	if v == version.V4 {
		typeName, _ := original["@odata.type"].(string)
		if typeName == "" && entityType != nil {
			typeName = "#" + qualified(schema, entityType)
		}
		if typeName != "" {
			payload["@odata.type"] = typeName
		}
		return payload
	}

	var typeName string
	if meta, ok := original["__metadata"].(map[string]any); ok {
		typeName, _ = meta["type"].(string)
	}
	if typeName == "" && entityType != nil {
		typeName = qualified(schema, entityType)
	}
	if typeName != "" {
		// Only the type: a stale uri or etag in __metadata makes some servers reject the write.
		payload["__metadata"] = map[string]any{"type": typeName}
	}
	return payload
}

// CleanNewItem copies a row created in the UI without any "__" prefixed keys
// (selection flags, client ids, metadata).
func CleanNewItem(item map[string]any) map[string]any {
	clean := make(map[string]any, len(item))
	for k, v := range item {
		if strings.HasPrefix(k, "__") {
			continue
		}
		clean[k] = deepCopy(v)
	}
	return clean
}

func qualified(schema *metadata.ParsedSchema, entityType *metadata.EntityType) string {
	return schema.QualifiedName(entityType.Name)
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	}
	return v
}
