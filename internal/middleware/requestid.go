package middleware

import (
	"context"
	"net/http"

	"payndeliver-cart/pkg/uid"
)

// RequestIDHeader carries the correlation ID between the cart client and the
// server. Each fetch or push gets its own ID, so a client-side sync failure
// can be matched with the server's log line for the same request.
const RequestIDHeader = "X-Request-ID"

type contextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey contextKey = "request_id"

// RequestID adopts the caller's X-Request-ID when it is a UUID and mints one
// otherwise. The ID is echoed on the response and stored in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uid.OrDefault(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// WithRequestID returns ctx carrying id. Outbound sync calls made with it
// send id instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// EnsureRequestID returns ctx with a request ID, minting one if ctx has none.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uid.New()
	return WithRequestID(ctx, id), id
}
