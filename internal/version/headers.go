package version

import "net/http"

// Operation is the kind of request the headers are built for.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

const (
	contentJSON        = "application/json"
	contentVerboseJSON = "application/json;odata=verbose"
)

// Headers returns the protocol headers a request of kind op needs against a service
// of version v. Unknown uses the V2 conventions.
func Headers(v Version, op Operation) http.Header {
	h := http.Header{}
	h.Set("Accept", contentJSON)

	switch v {
	case V4:
		h.Set("OData-Version", "4.0")
		h.Set("OData-MaxVersion", "4.0")
		h.Set("Content-Type", contentJSON)
	case V3:
		h.Set("DataServiceVersion", "3.0")
		h.Set("MaxDataServiceVersion", "3.0")
		h.Set("Accept", contentVerboseJSON)
		// Verbose JSON bodies only; a DELETE carries no payload.
		if op == OpDelete {
			h.Set("Content-Type", contentJSON)
		} else {
			h.Set("Content-Type", contentVerboseJSON)
		}
	default:
		h.Set("DataServiceVersion", "2.0")
		h.Set("MaxDataServiceVersion", "2.0")
		h.Set("Content-Type", contentJSON)
	}

	if op == OpRead {
		h.Del("Content-Type")
	}
	return h
}
