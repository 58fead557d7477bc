package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odatalens/odatalens/internal/observability"
)

const (
	// DefaultProbeTimeout bounds each probe request when the caller's context has no deadline.
	DefaultProbeTimeout = 15 * time.Second
	// maxProbeBody caps how much of a probe response is read.
	maxProbeBody = 8 << 20

	probeAccept = "application/json, application/xml, application/atom+xml"
)

// Detection strategies, reported in metrics and logs.
const (
	StrategyContent  = "content"
	StrategyMetadata = "metadata"
	StrategyHeader   = "header"
	StrategyJSON     = "json"
	StrategyXML      = "xml"
	StrategyNone     = "none"
)

// Detector probes OData services for their protocol version.
type Detector struct {
	client        *http.Client
	logger        *slog.Logger
	observability *observability.Config
}

// NewDetector creates a Detector. A nil client uses a client with DefaultProbeTimeout.
func NewDetector(client *http.Client) *Detector {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Detector{client: client, logger: slog.Default()}
}

// SetLogger sets the logger. Passing nil restores slog.Default().
func (d *Detector) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	d.logger = logger
}

// SetObservability sets the telemetry configuration.
func (d *Detector) SetObservability(cfg *observability.Config) {
	d.observability = cfg
}

// Detect classifies urlOrContent. With isContent set the input is a metadata document
// and only signature matching applies. Otherwise the service is probed: first its
// $metadata document, then the URL itself via response headers, JSON shape and XML
// namespaces. Every failure falls through to the next strategy; the result is
// Unknown when none succeeds. Detect never returns an error.
func (d *Detector) Detect(ctx context.Context, urlOrContent string, isContent bool) Version {
	if isContent {
		v := DetectContent(urlOrContent)
		d.observability.Metrics().RecordDetection(ctx, string(v), StrategyContent)
		return v
	}

	ctx, span := d.observability.Tracer().StartProbe(ctx, urlOrContent)
	defer span.End()

	v, strategy := d.probe(ctx, urlOrContent)
	span.SetAttributes(observability.VersionAttr(string(v)), observability.AttrStrategy.String(strategy))
	d.observability.Metrics().RecordDetection(ctx, string(v), strategy)
	d.logger.Debug("OData version detected", "url", urlOrContent, "version", v, "strategy", strategy)
	return v
}

func (d *Detector) probe(ctx context.Context, rawURL string) (Version, string) {
	metadataURL := MetadataURL(rawURL)
	if body, _, err := d.fetch(ctx, metadataURL, ""); err != nil {
		d.logger.Debug("Metadata probe failed", "url", metadataURL, "error", err)
	} else if LooksLikeMetadata(body) {
		if v := DetectContent(body); v != Unknown {
			return v, StrategyMetadata
		}
	}

	if ctx.Err() != nil {
		return Unknown, StrategyNone
	}

	body, header, err := d.fetch(ctx, strings.TrimSpace(rawURL), probeAccept)
	if err != nil {
		d.logger.Debug("Service probe failed", "url", rawURL, "error", err)
		return Unknown, StrategyNone
	}
	if v := FromHeaders(header); v != Unknown {
		return v, StrategyHeader
	}
	if v := FromJSONBody(body, header); v != Unknown {
		return v, StrategyJSON
	}
	if v := FromXMLBody(body); v != Unknown {
		return v, StrategyXML
	}
	return Unknown, StrategyNone
}

func (d *Detector) fetch(ctx context.Context, url, accept string) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("Error closing probe response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.Header, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return "", resp.Header, fmt.Errorf("failed to read response: %w", err)
	}
	return string(data), resp.Header, nil
}

// FromHeaders classifies a response by its OData-Version or DataServiceVersion header.
func FromHeaders(h http.Header) Version {
	if v := h.Get("OData-Version"); v != "" {
		if strings.HasPrefix(strings.TrimSpace(v), "4") {
			return V4
		}
	}
	if v := h.Get("DataServiceVersion"); v != "" {
		// Values look like "2.0;" or "3.0".
		major, _, _ := strings.Cut(strings.TrimSpace(v), ";")
		switch {
		case strings.HasPrefix(major, "3"):
			return V3
		case strings.HasPrefix(major, "1"), strings.HasPrefix(major, "2"):
			return V2
		}
	}
	return Unknown
}

// FromJSONBody classifies a JSON payload by its shape: @odata annotations mean V4,
// a "d" wrapper or __metadata means V2 (V3 when the headers declare 3.0).
func FromJSONBody(body string, h http.Header) Version {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return Unknown
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return Unknown
	}
	if _, ok := doc["@odata.context"]; ok {
		return V4
	}
	if _, ok := doc["@odata.id"]; ok {
		return V4
	}
	_, hasD := doc["d"]
	_, hasMeta := doc["__metadata"]
	if hasD || hasMeta || strings.Contains(trimmed, `"__metadata"`) {
		if strings.HasPrefix(strings.TrimSpace(h.Get("DataServiceVersion")), "3") {
			return V3
		}
		return V2
	}
	if strings.Contains(trimmed, `"@odata.`) {
		return V4
	}
	return Unknown
}

// FromXMLBody classifies an Atom/XML payload by its data namespace.
func FromXMLBody(body string) Version {
	switch {
	case strings.Contains(body, nsV4Data):
		return V4
	case strings.Contains(body, nsMSData):
		if declaresV3(body) {
			return V3
		}
		return V2
	}
	return Unknown
}
