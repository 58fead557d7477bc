package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Error messages
const (
	ErrMsgMethodNotAllowed = "Method not allowed"
	ErrMsgInvalidRequest   = "Invalid request"
	ErrMsgInvalidMetadata  = "Invalid metadata"
	ErrMsgNothingSelected  = "Nothing to process"
	ErrMsgUpstreamError    = "Upstream service error"
	ErrMsgStoreUnavailable = "Store not configured"
	ErrMsgInternalError    = "Internal error"
)

type errorDetail struct {
	Message string `json:"message"`
}

type errorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []errorDetail `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteError writes an OData style error object. detail is omitted when empty.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message, detail string) {
	body := errorResponse{Error: errorBody{Code: strconv.Itoa(status), Message: message}}
	if detail != "" {
		body.Error.Details = []errorDetail{{Message: detail}}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body of at most limit bytes. Numbers are kept as
// json.Number so key literals keep their original precision.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return err
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")
