package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AccessTokenVerifier validates a bearer access token and returns its subject.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (subject string, err error)
}

type subjectKey struct{}

// GetSubject retrieves the authenticated user ID from the context.
func GetSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey{}).(string); ok {
		return sub
	}
	return ""
}

// WithSubject returns a context carrying the authenticated user ID.
// Exposed for handler tests.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// Auth enforces a valid Bearer access token and stores its subject in the
// request context. Failures collapse to a single generic 401 body so callers
// cannot distinguish missing, malformed, and expired tokens.
func Auth(verifier AccessTokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}

			subject, err := verifier.VerifyAccessToken(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","error_description":"missing or invalid access token"}`))
}
