// ABOUTME: HTTP middleware that lifts admission-middleware headers into the request context
// ABOUTME: Trusts X-Principal-Id and X-Request-Id attached by the fronting proxy

package auth

import (
	"net/http"

	"github.com/google/uuid"
)

// Header names populated by the external admission middleware.
const (
	HeaderPrincipalID   = "X-Principal-Id"
	HeaderCorrelationID = "X-Request-Id"
)

// HTTPMiddleware extracts the principal and correlation id headers and
// attaches an Identity to the request context. Requests without a principal
// are rejected: authentication itself happens upstream, but the core refuses
// to operate on anonymous requests. A missing correlation id gets a generated
// fallback so every event downstream still carries one.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get(HeaderPrincipalID)
		if principal == "" {
			http.Error(w, `{"error":"missing principal"}`, http.StatusUnauthorized)
			return
		}

		correlation := r.Header.Get(HeaderCorrelationID)
		if correlation == "" {
			correlation = uuid.New().String()
		}

		ctx := WithIdentity(r.Context(), &Identity{
			PrincipalID:   principal,
			CorrelationID: correlation,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
