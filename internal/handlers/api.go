// Package handlers exposes the odatalens core as a JSON HTTP API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/mutation"
	"github.com/odatalens/odatalens/internal/observability"
	"github.com/odatalens/odatalens/internal/store"
	"github.com/odatalens/odatalens/internal/version"
)

// DefaultMaxBodyBytes limits request bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// Backend is the core the API delegates to.
type Backend interface {
	// LoadSchema parses metadataXML, or fetches $metadata from serviceURL when
	// metadataXML is empty.
	LoadSchema(ctx context.Context, metadataXML, serviceURL string) (*metadata.ParsedSchema, error)
	DetectVersion(ctx context.Context, input string, isContent bool) version.Version
	ExecutePlan(ctx context.Context, plan *mutation.Plan, useBatch bool) (mutation.Report, error)
}

// SettingsStore persists user settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (store.Settings, error)
	SaveSettings(ctx context.Context, settings store.Settings) error
}

// API routes JSON requests to the backend.
type API struct {
	backend       Backend
	settings      SettingsStore
	logger        *slog.Logger
	observability *observability.Config
	maxBodyBytes  int64
	mux           *http.ServeMux
	handler       http.Handler
}

// NewAPI creates the API.
func NewAPI(backend Backend) *API {
	a := &API{
		backend:      backend,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		mux:          http.NewServeMux(),
	}
	a.routes()
	a.buildHandler()
	return a
}

// SetLogger sets the logger for the API.
func (a *API) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

// SetObservability configures observability for the API.
func (a *API) SetObservability(cfg *observability.Config) {
	a.observability = cfg
	a.buildHandler()
}

// SetSettingsStore enables the settings endpoints.
func (a *API) SetSettingsStore(s SettingsStore) {
	a.settings = s
}

// SetMaxBodyBytes sets the request body limit. Non-positive values restore the default.
func (a *API) SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBodyBytes
	}
	a.maxBodyBytes = n
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("POST /api/schema", a.handleSchema)
	a.mux.HandleFunc("POST /api/fields", a.handleFields)
	a.mux.HandleFunc("POST /api/detect", a.handleDetect)
	a.mux.HandleFunc("POST /api/colors", a.handleColors)
	a.mux.HandleFunc("POST /api/query", a.handleQuery)
	a.mux.HandleFunc("GET /api/filter-functions", a.handleFilterFunctions)
	a.mux.HandleFunc("POST /api/tasks", a.handleTasks)
	a.mux.HandleFunc("POST /api/plan", a.handlePlan)
	a.mux.HandleFunc("POST /api/execute", a.handleExecute)
	a.mux.HandleFunc("GET /api/settings", a.handleGetSettings)
	a.mux.HandleFunc("PUT /api/settings", a.handlePutSettings)
}

func (a *API) buildHandler() {
	a.handler = requestIDMiddleware(a.observability.ServerTimingMiddleware(a.mux))
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// schemaSource is embedded by every request that needs a schema.
type schemaSource struct {
	Metadata   string `json:"metadata,omitempty"`
	ServiceURL string `json:"serviceUrl,omitempty"`
}

// loadSchema resolves the schema of a request and writes the error response when it
// cannot. The returned request carries the schema in its context.
func (a *API) loadSchema(w http.ResponseWriter, r *http.Request, src schemaSource) (*http.Request, *metadata.ParsedSchema, bool) {
	if src.Metadata == "" && src.ServiceURL == "" {
		WriteError(w, r, http.StatusBadRequest, ErrMsgInvalidRequest, "either metadata or serviceUrl is required")
		return r, nil, false
	}

	timing := observability.StartServerTimingWithDesc(r.Context(), "schema", "Load metadata")
	schema, err := a.backend.LoadSchema(r.Context(), src.Metadata, src.ServiceURL)
	timing.Stop()
	if err != nil {
		a.logger.Debug("Failed to load schema", "request_id", GetRequestID(r.Context()), "error", err)
		status, msg := http.StatusUnprocessableEntity, ErrMsgInvalidMetadata
		if src.Metadata == "" {
			status, msg = http.StatusBadGateway, ErrMsgUpstreamError
		}
		WriteError(w, r, status, msg, err.Error())
		return r, nil, false
	}
	return r.WithContext(withSchema(r.Context(), schema)), schema, true
}

// decode reads the request body into v and writes a 400/413 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, a.maxBodyBytes, v); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		WriteError(w, r, status, ErrMsgInvalidRequest, err.Error())
		return false
	}
	return true
}
