package mutation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odatalens/odatalens/internal/observability"
	"github.com/odatalens/odatalens/internal/version"
)

// BatchURL returns the $batch endpoint of a service root.
func BatchURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/$batch"
}

// WriteBatch writes plan as a multipart/mixed $batch body holding one changeset with
// a part per request, and returns the Content-Type to send with it. Request URLs
// under the plan's base URL are written relative to it.
func WriteBatch(w io.Writer, plan *Plan) (string, error) {
	batch := multipart.NewWriter(w)
	if err := batch.SetBoundary("batch_" + uuid.NewString()); err != nil {
		return "", fmt.Errorf("failed to set batch boundary: %w", err)
	}

	var changeset bytes.Buffer
	cs := multipart.NewWriter(&changeset)
	if err := cs.SetBoundary("changeset_" + uuid.NewString()); err != nil {
		return "", fmt.Errorf("failed to set changeset boundary: %w", err)
	}

	for i, req := range plan.Requests {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/http")
		header.Set("Content-Transfer-Encoding", "binary")
		header.Set("Content-ID", strconv.Itoa(i+1))

		part, err := cs.CreatePart(header)
		if err != nil {
			return "", fmt.Errorf("failed to create changeset part: %w", err)
		}
		if err := writeRequest(part, plan.BaseURL, req); err != nil {
			return "", err
		}
	}
	if err := cs.Close(); err != nil {
		return "", fmt.Errorf("failed to close changeset: %w", err)
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "multipart/mixed; boundary="+cs.Boundary())
	part, err := batch.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create batch part: %w", err)
	}
	if _, err := part.Write(changeset.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write changeset: %w", err)
	}
	if err := batch.Close(); err != nil {
		return "", fmt.Errorf("failed to close batch: %w", err)
	}
	return "multipart/mixed; boundary=" + batch.Boundary(), nil
}

func writeRequest(w io.Writer, baseURL string, req Request) error {
	target := req.URL
	if baseURL != "" && strings.HasPrefix(target, baseURL+"/") {
		target = strings.TrimPrefix(target, baseURL+"/")
	}

	var body []byte
	if req.Body != nil && req.Method != http.MethodDelete {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = data
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, target)
	for key, values := range req.Header {
		if key == "Accept" {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", key, v)
		}
	}
	if body != nil {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.Write(body)
	b.WriteString("\r\n")

	if _, err := w.Write(b.Bytes()); err != nil {
		return fmt.Errorf("failed to write batch request: %w", err)
	}
	return nil
}

// PartResponse is one operation response from a $batch reply.
type PartResponse struct {
	ContentID  string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ParseBatchResponse reads a multipart/mixed $batch response, flattening changesets.
func ParseBatchResponse(r io.Reader, contentType string) ([]PartResponse, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid batch Content-Type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("batch response must be multipart, got %s", mediaType)
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, errors.New("batch Content-Type has no boundary")
	}

	reader := multipart.NewReader(r, boundary)
	var responses []PartResponse
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return responses, fmt.Errorf("failed to read batch part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if strings.HasPrefix(partType, "multipart/") {
			nested, err := ParseBatchResponse(part, partType)
			responses = append(responses, nested...)
			if err != nil {
				return responses, err
			}
			continue
		}

		resp, err := parseHTTPResponse(part)
		if err != nil {
			return responses, err
		}
		resp.ContentID = part.Header.Get("Content-ID")
		responses = append(responses, *resp)
	}
	return responses, nil
}

// parseHTTPResponse parses the embedded HTTP response of one batch part.
func parseHTTPResponse(r io.Reader) (*PartResponse, error) {
	reader := bufio.NewReader(r)

	statusLine, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read status line: %w", err)
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")

	// HTTP-Version SP Status-Code SP Reason-Phrase
	fields := strings.SplitN(statusLine, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return nil, fmt.Errorf("invalid status line: %q", statusLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid status code in %q: %w", statusLine, err)
	}

	tp := textproto.NewReader(reader)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &PartResponse{
		StatusCode: code,
		Header:     http.Header(mimeHeader),
		Body:       bytes.TrimSpace(body),
	}, nil
}

// ExecuteBatch sends the whole plan as one $batch request. The changeset is atomic
// on the server, so the report lists one result per request from the reply.
func (e *Executor) ExecuteBatch(ctx context.Context, plan *Plan) (Report, error) {
	report := Report{Action: plan.Action, Results: make([]Result, 0, len(plan.Requests)+len(plan.Skipped))}
	if len(plan.Requests) == 0 {
		return report, ErrNothingSelected
	}

	ctx, span := e.observability.Tracer().StartPlan(ctx, string(plan.Action)+".batch", len(plan.Requests))
	defer span.End()

	var body bytes.Buffer
	contentType, err := WriteBatch(&body, plan)
	if err != nil {
		observability.RecordError(span, err)
		return report, err
	}

	batchURL := BatchURL(plan.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, &body)
	if err != nil {
		observability.RecordError(span, err)
		return report, fmt.Errorf("failed to build batch request: %w", err)
	}
	for k, values := range version.Headers(plan.Version, version.OpRead) {
		req.Header[k] = values
	}
	req.Header.Set("Accept", "multipart/mixed")
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return report, fmt.Errorf("batch request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("Error closing batch response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("batch rejected: HTTP %d: %s", resp.StatusCode, ErrorMessage(resp.StatusCode, data))
		observability.RecordError(span, err)
		return report, err
	}

	parts, err := ParseBatchResponse(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		observability.RecordError(span, err)
		return report, err
	}

	byContentID := make(map[string]PartResponse, len(parts))
	for _, p := range parts {
		if p.ContentID != "" {
			byContentID[p.ContentID] = p
		}
	}

	for i, r := range plan.Requests {
		res := Result{RequestID: r.ID, Method: r.Method, URL: r.URL}
		p, ok := byContentID[strconv.Itoa(i+1)]
		if !ok && i < len(parts) {
			p, ok = parts[i], true
		}
		// A failed changeset is answered with a single error part.
		if !ok && len(parts) > 0 {
			p, ok = parts[len(parts)-1], true
		}
		if ok {
			res.Status = p.StatusCode
			res.OK = p.StatusCode >= 200 && p.StatusCode < 300
			if !res.OK {
				res.Message = ErrorMessage(p.StatusCode, p.Body)
				res.Body = truncate(string(p.Body), maxReportedLen)
			}
		} else {
			res.Message = "no response for request in batch reply"
		}
		if res.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
		e.observability.Metrics().RecordRequest(ctx, string(plan.Action), res.OK)
		report.Results = append(report.Results, res)
	}
	for _, skip := range plan.Skipped {
		report.Failed++
		report.Results = append(report.Results, Result{Skipped: true, Message: skip.Reason})
	}

	e.logger.Info("Batch executed",
		"action", plan.Action,
		"url", batchURL,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}
