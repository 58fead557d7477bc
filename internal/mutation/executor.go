package mutation

import (
	"bytes"
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
	// DefaultRequestTimeout bounds each request when no client is supplied.
	DefaultRequestTimeout = 30 * time.Second

	maxErrorBody   = 64 << 10
	maxMessageLen  = 200
	maxReportedLen = 300
)

// Result is the outcome of one planned request or skipped row.
type Result struct {
	RequestID string `json:"requestId,omitempty"`
	Method    string `json:"method,omitempty"`
	URL       string `json:"url,omitempty"`
	Status    int    `json:"status,omitempty"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	// Message is the server's OData error message, the transport error, or the skip reason.
	Message string `json:"message,omitempty"`
	// Body is the (truncated) error response body.
	Body string `json:"body,omitempty"`
}

// Report summarizes an executed plan. Skipped rows count as failures.
type Report struct {
	Action    Action   `json:"action"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Errors returns the failure messages in request order.
func (r Report) Errors() []string {
	var msgs []string
	for _, res := range r.Results {
		if !res.OK && res.Message != "" {
			msgs = append(msgs, res.Message)
		}
	}
	return msgs
}

// Summary renders one line per result, suitable for a CLI or log.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d failed\n", r.Action, r.Succeeded, r.Failed)
	for _, res := range r.Results {
		switch {
		case res.Skipped:
			fmt.Fprintf(&b, "SKIP: %s\n", res.Message)
		case res.OK:
			fmt.Fprintf(&b, "SUCCESS (%s): %s\n", res.Method, res.URL)
		case res.Status != 0:
			fmt.Fprintf(&b, "FAILED (%d): %s - %s\n", res.Status, res.URL, res.Message)
		default:
			fmt.Fprintf(&b, "ERROR: %s - %s\n", res.URL, res.Message)
		}
	}
	return b.String()
}

// Executor sends planned requests.
type Executor struct {
	client        *http.Client
	logger        *slog.Logger
	observability *observability.Config
}

// NewExecutor creates an Executor. A nil client uses one with DefaultRequestTimeout.
func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Executor{client: client, logger: slog.Default()}
}

// SetLogger sets the logger. Passing nil restores slog.Default().
func (e *Executor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetObservability sets the telemetry configuration.
func (e *Executor) SetObservability(cfg *observability.Config) {
	e.observability = cfg
}

// Execute sends the plan's requests one after another. There is no retry and a failed
// request does not stop the rest; a cancelled context fails the remaining requests.
func (e *Executor) Execute(ctx context.Context, plan *Plan) Report {
	report := Report{Action: plan.Action, Results: make([]Result, 0, len(plan.Requests)+len(plan.Skipped))}

	ctx, span := e.observability.Tracer().StartPlan(ctx, string(plan.Action), len(plan.Requests))
	defer span.End()
	e.observability.Metrics().RecordPlanSize(ctx, string(plan.Action), len(plan.Requests))

	for _, req := range plan.Requests {
		res := e.do(ctx, plan.Action, req)
		if res.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	for _, skip := range plan.Skipped {
		report.Failed++
		report.Results = append(report.Results, Result{Skipped: true, Message: skip.Reason})
	}

	e.logger.Info("Mutation plan executed",
		"action", plan.Action,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report
}

func (e *Executor) do(ctx context.Context, action Action, req Request) Result {
	res := Result{RequestID: req.ID, Method: req.Method, URL: req.URL}

	ctx, span := e.observability.Tracer().StartRequest(ctx, req.Method, req.URL, req.ID)
	defer span.End()

	httpReq, err := newHTTPRequest(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		res.Message = err.Error()
		return res
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		observability.RecordError(span, err)
		e.logger.Error("Mutation request failed", "request_id", req.ID, "method", req.Method, "url", req.URL, "error", err)
		e.observability.Metrics().RecordRequest(ctx, string(action), false)
		res.Message = err.Error()
		return res
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("Error closing response body", "error", cerr)
		}
	}()

	res.Status = resp.StatusCode
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	e.observability.Metrics().RecordRequest(ctx, string(action), res.OK)
	if res.OK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		e.logger.Debug("Error reading error response body", "request_id", req.ID, "error", err)
	}
	res.Message = ErrorMessage(resp.StatusCode, body)
	res.Body = truncate(string(body), maxReportedLen)
	err = fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL, resp.StatusCode, res.Message)
	observability.RecordError(span, err)
	e.logger.Warn("Mutation request rejected", "request_id", req.ID, "status", resp.StatusCode, "message", res.Message)
	return res
}

func newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil && req.Method != http.MethodDelete {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

// ErrorMessage extracts a readable message from an OData error body. It understands
// {"error":{"message":{"value":...}}} (V2/V3 verbose), {"error":{"message":...}} (V4)
// and {"odata.error":{"message":{"value":...}}} (V3 light JSON), and falls back to the
// start of the raw body or the HTTP status.
func ErrorMessage(status int, body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, key := range []string{"error", "odata.error"} {
			errObj, ok := doc[key].(map[string]any)
			if !ok {
				continue
			}
			switch msg := errObj["message"].(type) {
			case string:
				if msg != "" {
					return msg
				}
			case map[string]any:
				if v, ok := msg["value"].(string); ok && v != "" {
					return v
				}
			}
		}
		if compact, err := json.Marshal(doc); err == nil {
			return truncate(string(compact), maxMessageLen)
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate(text, maxMessageLen)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
