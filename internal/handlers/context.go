package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/odatalens/odatalens/internal/metadata"
)

// Context keys for request-scoped values
type contextKey string

const (
	requestIDKey contextKey = "odatalens_request_id"
	schemaKey    contextKey = "odatalens_schema"
)

// RequestIDHeader carries the request id in requests and responses.
const RequestIDHeader = "X-Request-ID"

// WithRequestID adds a request id to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request id from the context
// Returns empty string if no request id is present
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// withSchema attaches the schema resolved for the request.
func withSchema(ctx context.Context, schema *metadata.ParsedSchema) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, schemaKey, schema)
}

// SchemaFromContext retrieves the schema resolved for the request.
func SchemaFromContext(ctx context.Context) (*metadata.ParsedSchema, bool) {
	if ctx == nil {
		return nil, false
	}
	schema, ok := ctx.Value(schemaKey).(*metadata.ParsedSchema)
	if !ok || schema == nil {
		return nil, false
	}
	return schema, true
}

// requestIDMiddleware reuses an incoming X-Request-ID or assigns a new one and
// echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
