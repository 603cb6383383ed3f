package httpapi

import (
	"context"
	"net/http"
	"strings"

	"clinicq/internal/auth"
)

type authContextKey struct{}

// AuthMiddleware attaches the bearer identity to the request context. Requests
// without a token pass through; routes decide whether they need one.
func AuthMiddleware(issuer *auth.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := issuer.Parse(token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(authContextKey{}).(auth.Identity)
	return identity, ok
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
		return auth.Identity{}, false
	}
	return identity, true
}

func requireClinic(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return "", false
	}
	if !identity.IsClinic() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "forbidden", "clinic access required")
		return "", false
	}
	return identity.Subject, true
}

func requirePatient(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return "", false
	}
	if !identity.IsPatient() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "forbidden", "patient access required")
		return "", false
	}
	return identity.Subject, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
