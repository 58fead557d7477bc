package handlers

import (
	"net/http"

	"github.com/odatalens/odatalens/internal/coloring"
	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/observability"
	"github.com/odatalens/odatalens/internal/query"
	"github.com/odatalens/odatalens/internal/version"
)

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaSource
	if !a.decode(w, r, &req) {
		return
	}
	_, schema, ok := a.loadSchema(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

type fieldsRequest struct {
	schemaSource
	EntityType string `json:"entityType"`
}

// fieldView is one flattened field with the flags form and mock-data consumers
// need: server-generated values must not be sent on create.
type fieldView struct {
	metadata.FieldPath
	Key      bool `json:"key,omitempty"`
	Identity bool `json:"identity,omitempty"`
	Computed bool `json:"computed,omitempty"`
}

type fieldsResponse struct {
	EntityType string      `json:"entityType"`
	Keys       []string    `json:"keys"`
	Fields     []fieldView `json:"fields"`
}

func fieldViews(paths []metadata.FieldPath, keys []metadata.EntityProperty) []fieldView {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k.Name] = true
	}
	views := make([]fieldView, 0, len(paths))
	for _, f := range paths {
		views = append(views, fieldView{
			FieldPath: f,
			Key:       isKey[f.Path],
			Identity:  metadata.IsIdentity(f.Property),
			Computed:  metadata.IsComputed(f.Property),
		})
	}
	return views
}

// handleFields lists the flattened properties of one entity or complex type.
func (a *API) handleFields(w http.ResponseWriter, r *http.Request) {
	var req fieldsRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, schema, ok := a.loadSchema(w, r, req.schemaSource)
	if !ok {
		return
	}

	name := metadata.ShortName(req.EntityType)
	if et, found := schema.EntityType(name); found {
		writeJSON(w, http.StatusOK, fieldsResponse{
			EntityType: et.Name,
			Keys:       et.Keys,
			Fields:     fieldViews(metadata.FlattenProperties(et, schema), metadata.KeyProperties(et)),
		})
		return
	}
	if ct, found := schema.ComplexType(name); found {
		writeJSON(w, http.StatusOK, fieldsResponse{
			EntityType: ct.Name,
			Keys:       []string{},
			Fields:     fieldViews(metadata.FlattenComplexType(ct, schema), nil),
		})
		return
	}
	WriteError(w, r, http.StatusNotFound, ErrMsgInvalidRequest, "type "+req.EntityType+" not found")
}

type detectRequest struct {
	Input     string `json:"input"`
	IsContent bool   `json:"isContent"`
}

type detectResponse struct {
	Version     version.Version `json:"version"`
	ServiceRoot string          `json:"serviceRoot,omitempty"`
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Input == "" {
		WriteError(w, r, http.StatusBadRequest, ErrMsgInvalidRequest, "input is required")
		return
	}

	timing := observability.StartServerTiming(r.Context(), "detect")
	v := a.backend.DetectVersion(r.Context(), req.Input, req.IsContent)
	timing.Stop()

	resp := detectResponse{Version: v}
	if !req.IsContent {
		resp.ServiceRoot = version.ServiceRoot(req.Input)
	}
	writeJSON(w, http.StatusOK, resp)
}

type colorsRequest struct {
	schemaSource
	Theme string `json:"theme"`
}

type entityColor struct {
	Index int                  `json:"index"`
	Theme coloring.EntityTheme `json:"theme"`
}

type colorsResponse struct {
	Theme  coloring.Theme         `json:"theme"`
	Colors map[string]entityColor `json:"colors"`
}

func (a *API) handleColors(w http.ResponseWriter, r *http.Request) {
	var req colorsRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, schema, ok := a.loadSchema(w, r, req.schemaSource)
	if !ok {
		return
	}

	theme := coloring.ParseTheme(req.Theme)
	indices := coloring.ComputeForTheme(schema.Entities, theme)
	resp := colorsResponse{Theme: theme, Colors: make(map[string]entityColor, len(indices))}
	for name, idx := range indices {
		resp.Colors[name] = entityColor{Index: idx, Theme: coloring.ThemeFor(idx, theme)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type orderBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type queryRequest struct {
	BaseURL   string    `json:"baseUrl"`
	Version   string    `json:"version"`
	EntitySet string    `json:"entitySet"`
	Key       string    `json:"key,omitempty"`
	Filter    string    `json:"filter,omitempty"`
	Select    []string  `json:"select,omitempty"`
	Expand    []string  `json:"expand,omitempty"`
	OrderBy   []orderBy `json:"orderBy,omitempty"`
	Top       *int      `json:"top,omitempty"`
	Skip      int       `json:"skip,omitempty"`
	Count     bool      `json:"count,omitempty"`
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.BaseURL == "" || req.EntitySet == "" {
		WriteError(w, r, http.StatusBadRequest, ErrMsgInvalidRequest, "baseUrl and entitySet are required")
		return
	}

	b := query.New(version.ServiceRoot(req.BaseURL), version.Parse(req.Version)).
		EntitySet(req.EntitySet).
		Key(req.Key).
		Filter(req.Filter).
		Select(req.Select...).
		Expand(req.Expand...).
		Skip(req.Skip).
		Count(req.Count)
	for _, o := range req.OrderBy {
		dir := query.Asc
		if o.Direction == string(query.Desc) {
			dir = query.Desc
		}
		b.OrderBy(o.Field, dir)
	}
	if req.Top != nil {
		b.Top(*req.Top)
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": b.Build()})
}

func (a *API) handleFilterFunctions(w http.ResponseWriter, r *http.Request) {
	v := version.Parse(r.URL.Query().Get("version"))
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   v,
		"functions": query.FilterFunctions(v),
	})
}
