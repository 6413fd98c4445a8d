package core

import "context"

type contextKey string

const requestIDKey contextKey = "request-id"

// RequestIDHeader carries the request ID to the upstream API.
const RequestIDHeader = "X-Request-ID"

// WithRequestID tags ctx with the ID of the fetch it belongs to.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the fetch ID carried by ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
