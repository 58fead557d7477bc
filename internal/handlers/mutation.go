package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/odatalens/odatalens/internal/mutation"
	"github.com/odatalens/odatalens/internal/observability"
	"github.com/odatalens/odatalens/internal/traversal"
	"github.com/odatalens/odatalens/internal/version"
)

type tasksRequest struct {
	schemaSource
	BaseURL   string `json:"baseUrl"`
	EntitySet string `json:"entitySet"`
	// Body is a raw query response ({value:[...]}, {d:{results:[...]}}, or an array).
	Body any `json:"body"`
}

type taskView struct {
	EntitySet  string               `json:"entitySet,omitempty"`
	EntityType string               `json:"entityType,omitempty"`
	Resolved   bool                 `json:"resolved"`
	Predicate  string               `json:"predicate,omitempty"`
	Address    traversal.Resolution `json:"address"`
	Addressed  bool                 `json:"addressed"`
	Item       map[string]any       `json:"item"`
}

type tasksResponse struct {
	Count int `json:"count"`
	// Total is the server-side row count when the query asked for one.
	Total *int64     `json:"total,omitempty"`
	Tasks []taskView `json:"tasks"`
}

// handleTasks lists every selected row of a query response with its resolved context.
func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	var req tasksRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, schema, ok := a.loadSchema(w, r, req.schemaSource)
	if !ok {
		return
	}

	entityType, _ := schema.EntityTypeForSet(req.EntitySet)
	baseURL := version.ServiceRoot(firstNonEmpty(req.BaseURL, req.ServiceURL))
	tasks := traversal.CollectSelected(traversal.UnwrapResults(req.Body), req.EntitySet, entityType, schema)

	resp := tasksResponse{Count: len(tasks), Tasks: make([]taskView, 0, len(tasks))}
	if total, ok := traversal.Count(req.Body); ok {
		resp.Total = &total
	}
	for _, task := range tasks {
		view := taskView{EntitySet: task.EntitySet, Resolved: task.Resolved(), Item: task.Item}
		if task.EntityType != nil {
			view.EntityType = task.EntityType.Name
		}
		view.Predicate, _ = traversal.KeyPredicate(task.Item, task.EntityType)
		view.Address, view.Addressed = traversal.ResolveItemURI(task.Item, baseURL, task.EntitySet, task.EntityType)
		resp.Tasks = append(resp.Tasks, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

type planRequest struct {
	schemaSource
	BaseURL   string            `json:"baseUrl"`
	Version   string            `json:"version,omitempty"`
	EntitySet string            `json:"entitySet"`
	Action    mutation.Action   `json:"action"`
	Body      any               `json:"body,omitempty"`    // delete: query response with __selected rows
	Updates   []mutation.Update `json:"updates,omitempty"` // update
	Items     []map[string]any  `json:"items,omitempty"`   // create
	UseBatch  bool              `json:"useBatch,omitempty"`
}

// buildPlan resolves the request into a mutation plan. It writes the error response
// and returns nil on failure.
func (a *API) buildPlan(w http.ResponseWriter, r *http.Request, req *planRequest) *mutation.Plan {
	r, schema, ok := a.loadSchema(w, r, req.schemaSource)
	if !ok {
		return nil
	}

	baseURL := firstNonEmpty(req.BaseURL, req.ServiceURL)
	if baseURL == "" {
		WriteError(w, r, http.StatusBadRequest, ErrMsgInvalidRequest, "baseUrl is required")
		return nil
	}

	planner := &mutation.Planner{
		BaseURL:   version.ServiceRoot(baseURL),
		Version:   resolveVersion(r, req.Version),
		Schema:    schema,
		EntitySet: req.EntitySet,
	}
	planner.EntityType, _ = schema.EntityTypeForSet(req.EntitySet)

	ctx, span := a.observability.Tracer().StartPlan(r.Context(), string(req.Action), 0)
	defer span.End()

	var plan *mutation.Plan
	var err error
	switch req.Action {
	case mutation.ActionDelete:
		plan, err = planner.PlanDelete(traversal.UnwrapResults(req.Body))
	case mutation.ActionUpdate:
		plan, err = planner.PlanUpdate(req.Updates)
	case mutation.ActionCreate:
		plan, err = planner.PlanCreate(req.Items)
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}
	if err != nil {
		observability.RecordError(span, err)
		status, msg := http.StatusBadRequest, ErrMsgInvalidRequest
		if errors.Is(err, mutation.ErrNothingSelected) {
			status, msg = http.StatusUnprocessableEntity, ErrMsgNothingSelected
		}
		WriteError(w, r, status, msg, err.Error())
		return nil
	}

	a.observability.Metrics().RecordPlanSize(ctx, string(plan.Action), len(plan.Requests))
	a.logger.Debug("Planned mutation",
		"request_id", GetRequestID(ctx),
		"action", plan.Action,
		"requests", len(plan.Requests),
		"skipped", len(plan.Skipped))
	return plan
}

// resolveVersion prefers the version named in the request, then the version the
// request's metadata declares.
func resolveVersion(r *http.Request, requested string) version.Version {
	if v := version.Parse(requested); v != version.Unknown {
		return v
	}
	if schema, ok := SchemaFromContext(r.Context()); ok {
		return version.Parse(schema.Version)
	}
	return version.Unknown
}

func (a *API) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !a.decode(w, r, &req) {
		return
	}
	plan := a.buildPlan(w, r, &req)
	if plan == nil {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !a.decode(w, r, &req) {
		return
	}
	plan := a.buildPlan(w, r, &req)
	if plan == nil {
		return
	}

	timing := observability.StartServerTimingWithDesc(r.Context(), "execute", string(plan.Action))
	report, err := a.backend.ExecutePlan(r.Context(), plan, req.UseBatch)
	timing.Stop()
	if err != nil {
		a.logger.Warn("Mutation failed", "request_id", GetRequestID(r.Context()), "error", err)
		WriteError(w, r, http.StatusBadGateway, ErrMsgUpstreamError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
