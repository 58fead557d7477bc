// Package version classifies OData services and metadata documents as V2, V3 or V4
// and derives the per-version URL and header conventions.
package version

import (
	"net/url"
	"strings"
)

// Version is a detected OData protocol version.
type Version string

const (
	V2      Version = "V2"
	V3      Version = "V3"
	V4      Version = "V4"
	Unknown Version = "Unknown"
)

// Parse maps user input ("v4", "4.0", "V2") to a Version. Unrecognized input is Unknown.
func Parse(s string) Version {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "V4", "4", "4.0", "4.01":
		return V4
	case "V3", "3", "3.0":
		return V3
	case "V2", "2", "2.0", "V1", "1", "1.0":
		return V2
	}
	return Unknown
}

// IsV4 reports whether v uses the V4 JSON and header conventions.
func (v Version) IsV4() bool { return v == V4 }

// FromEdmx classifies the Version attribute of the Edmx root together with the
// DataServiceVersion attribute of DataServices.
func FromEdmx(edmxVersion, dataServiceVersion string) Version {
	switch strings.TrimSpace(edmxVersion) {
	case "4.0", "4.01":
		return V4
	case "3.0":
		return V3
	case "1.0", "2.0":
		if strings.TrimSpace(dataServiceVersion) == "3.0" {
			return V3
		}
		return V2
	}
	if dsv := Parse(dataServiceVersion); dsv != Unknown {
		return dsv
	}
	return Unknown
}

const (
	nsV4Edmx     = "docs.oasis-open.org/odata/ns"
	nsV4Data     = "docs.oasis-open.org/odata/ns/data"
	nsMSData     = "schemas.microsoft.com/ado/2007/08/dataservices"
	nsMSPrefix   = "schemas.microsoft.com/ado/"
	dsvV3Marker  = `DataServiceVersion="3.0"`
	maxPrefix    = "Max"
	edmxV3Marker = `Version="3.0"`
)

var microsoftNamespaceYears = []string{"2006/", "2007/", "2008/", "2009/"}

// DetectContent classifies a metadata document by signature matching. Explicit
// Version attributes win; namespace URIs are the fallback.
func DetectContent(content string) Version {
	switch {
	case declares(content, `Version="4.0"`), declares(content, `Version="4.01"`):
		return V4
	case declares(content, `Version="1.0"`), declares(content, `Version="2.0"`):
		// Edmx 1.0 is shared by V2 and V3; only DataServiceVersion separates them.
		if declaresV3(content) {
			return V3
		}
		return V2
	case declares(content, edmxV3Marker):
		return V3
	}

	if strings.Contains(content, nsV4Edmx) {
		return V4
	}
	if hasMicrosoftNamespace(content) {
		if declaresV3(content) {
			return V3
		}
		return V2
	}
	return Unknown
}

// declaresV3 looks for DataServiceVersion="3.0", ignoring MaxDataServiceVersion.
func declaresV3(content string) bool {
	return declares(content, dsvV3Marker)
}

// declares reports whether content carries marker outside a Max*Version attribute,
// so MaxDataServiceVersion="4.0" on a V2 document does not read as V4.
func declares(content, marker string) bool {
	for rest := content; ; {
		i := strings.Index(rest, marker)
		if i < 0 {
			return false
		}
		if !strings.HasSuffix(rest[:i], maxPrefix) && !strings.HasSuffix(rest[:i], maxPrefix+"DataService") {
			return true
		}
		rest = rest[i+len(marker):]
	}
}

func hasMicrosoftNamespace(content string) bool {
	idx := strings.Index(content, nsMSPrefix)
	for idx >= 0 {
		rest := content[idx+len(nsMSPrefix):]
		for _, year := range microsoftNamespaceYears {
			if strings.HasPrefix(rest, year) {
				return true
			}
		}
		next := strings.Index(rest, nsMSPrefix)
		if next < 0 {
			break
		}
		idx += len(nsMSPrefix) + next
	}
	return false
}

// LooksLikeMetadata reports whether body is an EDMX/CSDL document.
func LooksLikeMetadata(body string) bool {
	return strings.Contains(body, "Edmx") || strings.Contains(body, "<Schema")
}

// ServiceRoot derives the service root from a service, entity set or $metadata URL:
// query and fragment are dropped, a trailing $metadata is removed, and the path is
// cut after ".svc" or after "/odata" when either is present.
func ServiceRoot(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, "$metadata")
	s = strings.TrimSuffix(s, "/")

	lower := strings.ToLower(s)
	if i := strings.Index(lower, ".svc"); i >= 0 {
		return s[:i+len(".svc")]
	}
	if i := strings.Index(lower, "/odata"); i >= 0 {
		end := i + len("/odata")
		// Keep a versioned segment such as /odata/v4.
		if rest := s[end:]; strings.HasPrefix(rest, "/") {
			if seg, _, _ := strings.Cut(rest[1:], "/"); isVersionSegment(seg) {
				end += 1 + len(seg)
			}
		}
		return s[:end]
	}
	return s
}

func isVersionSegment(seg string) bool {
	if len(seg) < 2 || (seg[0] != 'v' && seg[0] != 'V') {
		return false
	}
	for _, r := range seg[1:] {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// MetadataURL returns "{ServiceRoot}/$metadata".
func MetadataURL(raw string) string {
	return ServiceRoot(raw) + "/$metadata"
}

// IsAbsoluteURL reports whether raw parses as an http(s) URL with a host.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
