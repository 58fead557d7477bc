package traversal

import "strings"

// Reserved row keys that carry protocol metadata or UI state rather than data.
const (
	keyMetadata = "__metadata"
	keyDeferred = "__deferred"
	keySelected = "__selected"
	keyResults  = "results"

	annotationType     = "@odata.type"
	annotationID       = "@odata.id"
	annotationEditLink = "@odata.editLink"
)

// MarkerKind tells which protocol dialect a row's embedded metadata uses.
type MarkerKind int

const (
	MarkerNone MarkerKind = iota
	MarkerV2              // __metadata object (V2 and V3 verbose JSON)
	MarkerV4              // @odata.* annotations
)

// Marker is the identity information a row carries about itself.
type Marker struct {
	Kind MarkerKind
	// TypeName is the qualified type with any leading "#" removed.
	TypeName string
	// URI is the server supplied address of the row, possibly relative.
	URI string
}

// ShortType returns TypeName without its namespace.
func (m Marker) ShortType() string {
	if i := strings.LastIndex(m.TypeName, "."); i >= 0 {
		return m.TypeName[i+1:]
	}
	return m.TypeName
}

// Inspect reads the embedded metadata of a row. V2 __metadata wins over V4
// annotations when a row carries both.
func Inspect(row map[string]any) Marker {
	if meta, ok := row[keyMetadata].(map[string]any); ok {
		m := Marker{Kind: MarkerV2}
		m.TypeName, _ = meta["type"].(string)
		m.URI, _ = meta["uri"].(string)
		if m.TypeName != "" || m.URI != "" {
			return m
		}
	}

	typeName, _ := row[annotationType].(string)
	uri, _ := row[annotationID].(string)
	if uri == "" {
		uri, _ = row[annotationEditLink].(string)
	}
	if typeName != "" || uri != "" {
		return Marker{Kind: MarkerV4, TypeName: strings.TrimPrefix(typeName, "#"), URI: uri}
	}
	return Marker{Kind: MarkerNone}
}

// IsSelected reports whether the row carries the selection flag.
func IsSelected(row map[string]any) bool {
	selected, ok := row[keySelected].(bool)
	return ok && selected
}

func isReservedKey(key string) bool {
	return key == keyMetadata || key == keyDeferred || key == keySelected
}
