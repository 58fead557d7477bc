package traversal

import (
	"regexp"
	"strings"

	"github.com/odatalens/odatalens/internal/metadata"
)

// PredicateFromURI is reported when a row is addressed by a server URI whose last
// segment carries no recognizable key.
const PredicateFromURI = "(From URI)"

// trailingSegment matches the last "Name(key)" segment of an entity URI.
var trailingSegment = regexp.MustCompile(`/([^/]+\(.+\))$`)

// Resolution is the address of one row.
type Resolution struct {
	URL string `json:"url"`
	// Predicate is the key segment used for display, e.g. "(ID=5)" or "Orders(5)"
	// when taken from a server URI.
	Predicate string `json:"predicate"`
	// FromServer is set when the URL came from the row's own metadata.
	FromServer bool `json:"fromServer"`
}

// ResolveItemURI returns the URL a mutation of item must target. A URI the server
// embedded in the row (__metadata.uri, then @odata.id, then @odata.editLink) is
// authoritative; relative URIs are joined to baseURL. Otherwise the URL is built as
// {baseURL}/{entitySet}{predicate}. It reports false when neither works.
func ResolveItemURI(item map[string]any, baseURL, entitySet string, entityType *metadata.EntityType) (Resolution, bool) {
	if item == nil {
		return Resolution{}, false
	}
	base := strings.TrimSuffix(baseURL, "/")

	if uri := explicitURI(item); uri != "" {
		if !isAbsolute(uri) {
			uri = base + "/" + strings.TrimPrefix(uri, "/")
		}
		predicate := PredicateFromURI
		if m := trailingSegment.FindStringSubmatch(uri); m != nil {
			predicate = m[1]
		}
		return Resolution{URL: uri, Predicate: predicate, FromServer: true}, true
	}

	if entitySet == "" {
		return Resolution{}, false
	}
	predicate, ok := KeyPredicate(item, entityType)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{URL: base + "/" + entitySet + predicate, Predicate: predicate}, true
}

func explicitURI(item map[string]any) string {
	if meta, ok := item[keyMetadata].(map[string]any); ok {
		if uri, _ := meta["uri"].(string); uri != "" {
			return uri
		}
	}
	if uri, _ := item[annotationID].(string); uri != "" {
		return uri
	}
	uri, _ := item[annotationEditLink].(string)
	return uri
}

func isAbsolute(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
