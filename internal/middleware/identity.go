package middleware

import (
	"context"
	"net/http"
	"strings"
)

type userKey string

const (
	userIDKey userKey = "user_id"

	// UserIDHeader carries the caller identity set by the fronting gateway.
	UserIDHeader = "X-User-ID"
)

// UserID copies the caller identity header into the request context.
// Requests without it are served anonymously; handlers decide whether
// that is allowed.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(ContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
