package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/askbase-io/askbase/internal/api"
)

type contextKey string

const ProjectIDKey contextKey = "project_id"

// TokenAuth validates the static API token configured at deploy time.
// The optional X-Project-ID header is propagated into the request
// context for logging and tracing.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				api.Error(w, http.StatusUnauthorized, "invalid api token")
				return
			}

			ctx := r.Context()
			if projectID := r.Header.Get("X-Project-ID"); projectID != "" {
				ctx = context.WithValue(ctx, ProjectIDKey, projectID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetProjectID returns the project ID from context.
func GetProjectID(ctx context.Context) string {
	projectID, _ := ctx.Value(ProjectIDKey).(string)
	return projectID
}
