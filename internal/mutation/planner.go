package mutation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/traversal"
	"github.com/odatalens/odatalens/internal/version"
)

// Action is the kind of write a plan performs.
type Action string

const (
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
	ActionCreate Action = "create"
)

var (
	// ErrNothingSelected is returned when no row is flagged or no change was supplied.
	ErrNothingSelected = errors.New("mutation: no rows to process")
	// ErrNoEntitySet is returned by PlanCreate when the planner has no target set.
	ErrNoEntitySet = errors.New("mutation: entity set is required to create entities")
)

// Skip reasons.
const (
	ReasonNoURL = "cannot determine URL for item (missing key and metadata)"
)

// Request is one planned HTTP write.
type Request struct {
	ID        string         `json:"id"`
	Method    string         `json:"method"`
	URL       string         `json:"url"`
	Header    http.Header    `json:"header"`
	Body      map[string]any `json:"body,omitempty"`
	EntitySet string         `json:"entitySet,omitempty"`
	Predicate string         `json:"predicate,omitempty"`
}

// Skip records a row that could not be addressed. It is never guessed.
type Skip struct {
	Index     int            `json:"index"`
	Item      map[string]any `json:"item"`
	EntitySet string         `json:"entitySet,omitempty"`
	Reason    string         `json:"reason"`
}

// Plan is the ordered set of requests for one user action.
type Plan struct {
	Action   Action          `json:"action"`
	Version  version.Version `json:"version"`
	BaseURL  string          `json:"baseUrl"`
	Requests []Request       `json:"requests"`
	Skipped  []Skip          `json:"skipped,omitempty"`
}

// Update pairs a fetched row with the edited values.
type Update struct {
	Item    map[string]any `json:"item"`
	Changes map[string]any `json:"changes"`
}

// Planner resolves rows into requests. EntitySet and EntityType are the context the
// rows were queried from; they are the fallback when a row cannot be resolved on its
// own.
type Planner struct {
	BaseURL    string
	Version    version.Version
	Schema     *metadata.ParsedSchema
	EntitySet  string
	EntityType *metadata.EntityType
}

func (p *Planner) baseURL() string {
	return strings.TrimSuffix(strings.TrimSpace(p.BaseURL), "/")
}

func (p *Planner) newPlan(action Action) *Plan {
	return &Plan{Action: action, Version: p.Version, BaseURL: p.baseURL(), Requests: []Request{}}
}

func (p *Planner) request(method, url string, op version.Operation, body map[string]any, set, predicate string) Request {
	return Request{
		ID:        uuid.NewString(),
		Method:    method,
		URL:       url,
		Header:    version.Headers(p.Version, op),
		Body:      body,
		EntitySet: set,
		Predicate: predicate,
	}
}

// PlanDelete plans a DELETE for every row flagged __selected anywhere in rows.
// Rows whose entity set cannot be resolved are skipped.
func (p *Planner) PlanDelete(rows []any) (*Plan, error) {
	tasks := traversal.CollectSelected(rows, p.EntitySet, p.EntityType, p.Schema)
	if len(tasks) == 0 {
		return nil, ErrNothingSelected
	}

	plan := p.newPlan(ActionDelete)
	for i, task := range tasks {
		// Rows keep only the context traversal recovered for them. A nested row
		// without one is skipped rather than addressed as a row of the root set.
		res, ok := traversal.ResolveItemURI(task.Item, plan.BaseURL, task.EntitySet, task.EntityType)
		if !ok {
			plan.Skipped = append(plan.Skipped, Skip{Index: i, Item: task.Item, EntitySet: task.EntitySet, Reason: ReasonNoURL})
			continue
		}
		plan.Requests = append(plan.Requests,
			p.request(http.MethodDelete, res.URL, version.OpDelete, nil, task.EntitySet, res.Predicate))
	}
	return plan, nil
}

// PlanUpdate plans a PATCH per update. A row's own URI wins; otherwise the key
// predicate is built against the planner's entity set.
func (p *Planner) PlanUpdate(updates []Update) (*Plan, error) {
	if len(updates) == 0 {
		return nil, ErrNothingSelected
	}

	plan := p.newPlan(ActionUpdate)
	for i, u := range updates {
		body := BuildPayload(u.Item, u.Changes, p.Version, p.Schema, p.EntityType)

		res, ok := traversal.ResolveItemURI(u.Item, plan.BaseURL, "", nil)
		if !ok {
			res, ok = traversal.ResolveItemURI(u.Item, plan.BaseURL, p.EntitySet, p.EntityType)
		}
		if !ok {
			plan.Skipped = append(plan.Skipped, Skip{Index: i, Item: u.Item, EntitySet: p.EntitySet, Reason: ReasonNoURL})
			continue
		}
		plan.Requests = append(plan.Requests,
			p.request(http.MethodPatch, res.URL, version.OpUpdate, body, p.EntitySet, res.Predicate))
	}
	return plan, nil
}

// PlanCreate plans a POST to the planner's entity set per new item.
func (p *Planner) PlanCreate(items []map[string]any) (*Plan, error) {
	if len(items) == 0 {
		return nil, ErrNothingSelected
	}
	if p.EntitySet == "" {
		return nil, ErrNoEntitySet
	}

	plan := p.newPlan(ActionCreate)
	url := plan.BaseURL + "/" + p.EntitySet
	for _, item := range items {
		body := BuildPayload(nil, CleanNewItem(item), p.Version, p.Schema, p.EntityType)
		plan.Requests = append(plan.Requests,
			p.request(http.MethodPost, url, version.OpCreate, body, p.EntitySet, ""))
	}
	return plan, nil
}
