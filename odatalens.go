// Package odatalens inspects OData V2, V3 and V4 services. It parses $metadata into
// a uniform schema model, detects the protocol version of a service, colors the
// entity graph for diagrams, and turns rows selected in query results into the
// HTTP requests that delete, update or create them.
//
// # Basic use
//
//	explorer := odatalens.NewExplorer()
//	schema, err := explorer.LoadSchema(ctx, "", "https://services.odata.org/V4/Northwind/Northwind.svc/")
//	if err != nil {
//		log.Fatal(err)
//	}
//	colors := explorer.Colors(schema, odatalens.ThemeLight)
//
// # Mutations
//
// Rows are the decoded JSON of a query response. Rows flagged with
// "__selected": true, at any nesting depth, are resolved to their entity set and key
// and planned as requests:
//
//	planner := explorer.NewPlanner(schema, serviceURL, odatalens.V4, "Orders")
//	plan, err := planner.PlanDelete(rows)
//	report, err := explorer.ExecutePlan(ctx, plan, false)
//
// # HTTP API
//
// Handler returns a JSON API over the same operations, used by the serve command.
package odatalens

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/odatalens/odatalens/internal/cache"
	"github.com/odatalens/odatalens/internal/coloring"
	"github.com/odatalens/odatalens/internal/edmx"
	"github.com/odatalens/odatalens/internal/handlers"
	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/mutation"
	"github.com/odatalens/odatalens/internal/observability"
	"github.com/odatalens/odatalens/internal/query"
	"github.com/odatalens/odatalens/internal/store"
	"github.com/odatalens/odatalens/internal/traversal"
	"github.com/odatalens/odatalens/internal/version"
)

// Types shared with the internal packages.
type (
	ParsedSchema       = metadata.ParsedSchema
	EntityType         = metadata.EntityType
	EntityProperty     = metadata.EntityProperty
	NavigationProperty = metadata.NavigationProperty
	Version            = version.Version
	Theme              = coloring.Theme
	Task               = traversal.Task
	Plan               = mutation.Plan
	Report             = mutation.Report
	Update             = mutation.Update
	Planner            = mutation.Planner
	QueryBuilder       = query.Builder
)

// Protocol versions.
const (
	V2             = version.V2
	V3             = version.V3
	V4             = version.V4
	VersionUnknown = version.Unknown
)

// ParseVersion maps user input such as "v4" or "2.0" to a Version.
func ParseVersion(s string) Version {
	return version.Parse(s)
}

// Color themes.
const (
	ThemeLight = coloring.Light
	ThemeDark  = coloring.Dark
)

// ParseTheme maps "dark" to ThemeDark and anything else to ThemeLight.
func ParseTheme(s string) Theme {
	return coloring.ParseTheme(s)
}

// ErrNoSchema is returned when a metadata document contains no Schema element.
var ErrNoSchema = edmx.ErrNoSchema

// ExplorerConfig controls optional explorer behaviours.
type ExplorerConfig struct {
	// HTTPClient is used for every outbound request. When nil a client with
	// RequestTimeout is created.
	HTTPClient *http.Client

	// ProbeTimeout bounds version detection of one URL.
	// Default: 15s. If set to 0 or left unset, DefaultProbeTimeout is used.
	ProbeTimeout time.Duration

	// RequestTimeout bounds each metadata fetch and mutation request.
	// Default: 30s. If set to 0 or left unset, DefaultRequestTimeout is used.
	RequestTimeout time.Duration

	// CacheSize is the number of parsed metadata documents kept in memory.
	// Default: 32. If set to 0 or left unset, DefaultCacheSize is used.
	CacheSize int

	// MaxBodyBytes limits request bodies accepted by Handler.
	// Default: 10 MiB. If set to 0 or left unset, DefaultMaxBodyBytes is used.
	MaxBodyBytes int64

	// MaxMetadataBytes limits fetched $metadata documents.
	// Default: 32 MiB. If set to 0 or left unset, DefaultMaxMetadataBytes is used.
	MaxMetadataBytes int64

	// KeepDocuments is the number of stored metadata documents kept per service
	// when a store is enabled. Older documents are pruned after each save.
	// Default: 5. If set to 0 or left unset, DefaultKeepDocuments is used.
	KeepDocuments int
}

const (
	DefaultProbeTimeout     = version.DefaultProbeTimeout
	DefaultRequestTimeout   = mutation.DefaultRequestTimeout
	DefaultCacheSize        = cache.DefaultMaxEntries
	DefaultMaxBodyBytes     = handlers.DefaultMaxBodyBytes
	DefaultMaxMetadataBytes = 32 << 20
	DefaultKeepDocuments    = 5
)

// Explorer is the entry point to odatalens. It is safe for concurrent use once
// configured.
type Explorer struct {
	cfg           ExplorerConfig
	client        *http.Client
	cache         *cache.Cache
	detector      *version.Detector
	executor      *mutation.Executor
	store         *store.Store
	logger        *slog.Logger
	observability *observability.Config

	apiOnce sync.Once
	api     *handlers.API
}

// NewExplorer creates an explorer with default configuration.
func NewExplorer() *Explorer {
	return NewExplorerWithConfig(ExplorerConfig{})
}

// NewExplorerWithConfig creates an explorer. Zero values in cfg are replaced by the
// Default* constants.
func NewExplorerWithConfig(cfg ExplorerConfig) *Explorer {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxMetadataBytes <= 0 {
		cfg.MaxMetadataBytes = DefaultMaxMetadataBytes
	}
	if cfg.KeepDocuments <= 0 {
		cfg.KeepDocuments = DefaultKeepDocuments
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	probeClient := *client
	if probeClient.Timeout == 0 || probeClient.Timeout > cfg.ProbeTimeout {
		probeClient.Timeout = cfg.ProbeTimeout
	}

	return &Explorer{
		cfg:      cfg,
		client:   client,
		cache:    cache.New(cfg.CacheSize),
		detector: version.NewDetector(&probeClient),
		executor: mutation.NewExecutor(client),
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger for the explorer.
// If logger is nil, slog.Default() is used.
func (e *Explorer) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
	e.detector.SetLogger(logger)
	e.executor.SetLogger(logger)
	if e.store != nil {
		e.store.SetLogger(logger)
	}
	if e.api != nil {
		e.api.SetLogger(logger)
	}
	return nil
}

// ObservabilityConfig configures tracing and metrics. All providers are optional;
// when nil the global otel providers are used, which are no-ops unless installed.
type ObservabilityConfig struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// ServiceName identifies this process in telemetry data.
	// Defaults to "odatalens" if not specified.
	ServiceName    string
	ServiceVersion string

	// EnableServerTiming adds the Server-Timing header to Handler responses.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the explorer.
func (e *Explorer) SetObservability(cfg ObservabilityConfig) error {
	opts := []observability.Option{observability.WithLogger(e.logger)}
	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}

	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	e.observability = obsCfg
	e.cache.SetObservability(obsCfg)
	e.detector.SetObservability(obsCfg)
	e.executor.SetObservability(obsCfg)
	if e.api != nil {
		e.api.SetObservability(obsCfg)
	}

	e.logger.Info("Observability configured",
		"tracing_enabled", cfg.TracerProvider != nil,
		"metrics_enabled", cfg.MeterProvider != nil,
		"server_timing_enabled", cfg.EnableServerTiming,
		"service_name", obsCfg.ServiceName(),
	)
	return nil
}

// Observability returns the current observability configuration, or nil.
func (e *Explorer) Observability() *observability.Config {
	return e.observability
}

// ParseMetadata parses a metadata document. Identical documents are parsed once.
func (e *Explorer) ParseMetadata(ctx context.Context, data []byte) (*ParsedSchema, error) {
	ctx, span := e.observability.Tracer().StartParse(ctx, len(data))
	defer span.End()

	start := time.Now()
	schema, err := e.cache.GetOrParse(ctx, data, edmx.Parse)
	e.observability.Metrics().RecordParse(ctx, time.Since(start), err == nil)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		observability.VersionAttr(schema.Version),
		observability.EntityCountAttr(len(schema.Entities)),
	)
	return schema, nil
}

// FetchMetadata downloads the $metadata document of the service serviceURL belongs to.
func (e *Explorer) FetchMetadata(ctx context.Context, serviceURL string) ([]byte, error) {
	metadataURL := version.MetadataURL(serviceURL)
	if !version.IsAbsoluteURL(metadataURL) {
		return nil, fmt.Errorf("invalid service URL %q", serviceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("Error closing metadata response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch metadata: %s returned status %d", metadataURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxMetadataBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if int64(len(data)) > e.cfg.MaxMetadataBytes {
		return nil, fmt.Errorf("metadata document exceeds %d bytes", e.cfg.MaxMetadataBytes)
	}
	return data, nil
}

// LoadSchema parses metadataXML, or fetches and parses the $metadata of serviceURL
// when metadataXML is empty. With a store enabled, fetched documents are saved and
// the last saved document is used when the service cannot be reached.
func (e *Explorer) LoadSchema(ctx context.Context, metadataXML, serviceURL string) (*ParsedSchema, error) {
	if strings.TrimSpace(metadataXML) != "" {
		return e.ParseMetadata(ctx, []byte(metadataXML))
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("metadata or service URL is required")
	}

	root := version.ServiceRoot(serviceURL)
	data, err := e.FetchMetadata(ctx, root)
	if err != nil {
		doc, ok := e.offlineDocument(ctx, root)
		if !ok {
			return nil, err
		}
		e.logger.Warn("Using stored metadata, service unreachable", "service_url", root, "fetched_at", doc.FetchedAt, "error", err)
		data = []byte(doc.Content)
	}

	schema, err := e.ParseMetadata(ctx, data)
	if err != nil {
		return nil, err
	}
	e.rememberDocument(ctx, root, data, schema)
	return schema, nil
}

// DetectVersion classifies a service URL or, with isContent set, a metadata document.
func (e *Explorer) DetectVersion(ctx context.Context, input string, isContent bool) Version {
	return e.detector.Detect(ctx, input, isContent)
}

// Colors assigns a palette index to every entity so that related entities differ.
func (e *Explorer) Colors(schema *ParsedSchema, theme Theme) map[string]int {
	if schema == nil {
		return map[string]int{}
	}
	return coloring.ComputeForTheme(schema.Entities, theme)
}

// Rows extracts the row list from a decoded query response body in any of the
// V2, V3 or V4 JSON shapes.
func Rows(body any) []any {
	return traversal.UnwrapResults(body)
}

// SelectedTasks collects the rows flagged __selected in a query response body.
func (e *Explorer) SelectedTasks(body any, entitySet string, schema *ParsedSchema) []Task {
	entityType, _ := schema.EntityTypeForSet(entitySet)
	return traversal.CollectSelected(Rows(body), entitySet, entityType, schema)
}

// NewPlanner returns a planner for rows queried from entitySet.
func (e *Explorer) NewPlanner(schema *ParsedSchema, serviceURL string, v Version, entitySet string) *Planner {
	if v == version.Unknown && schema != nil {
		v = version.Parse(schema.Version)
	}
	entityType, _ := schema.EntityTypeForSet(entitySet)
	return &mutation.Planner{
		BaseURL:    version.ServiceRoot(serviceURL),
		Version:    v,
		Schema:     schema,
		EntitySet:  entitySet,
		EntityType: entityType,
	}
}

// ExecutePlan sends a plan, one request at a time or as a single $batch.
func (e *Explorer) ExecutePlan(ctx context.Context, plan *Plan, useBatch bool) (Report, error) {
	if plan == nil {
		return Report{}, mutation.ErrNothingSelected
	}
	if useBatch {
		return e.executor.ExecuteBatch(ctx, plan)
	}
	return e.executor.Execute(ctx, plan), nil
}

// Query starts a query URL for the service.
func (e *Explorer) Query(serviceURL string, v Version) *QueryBuilder {
	return query.New(version.ServiceRoot(serviceURL), v)
}

// Handler returns the JSON HTTP API.
func (e *Explorer) Handler() http.Handler {
	e.apiOnce.Do(func() {
		api := handlers.NewAPI(e)
		api.SetLogger(e.logger)
		api.SetObservability(e.observability)
		api.SetMaxBodyBytes(e.cfg.MaxBodyBytes)
		if e.store != nil {
			api.SetSettingsStore(e.store)
		}
		e.api = api
	})
	return e.api
}

// Close releases the store connection. It is safe to call multiple times.
func (e *Explorer) Close() error {
	if e == nil || e.store == nil {
		return nil
	}
	db, err := e.store.DB().DB()
	e.store = nil
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return db.Close()
}
