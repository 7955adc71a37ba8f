package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/bumperworks/preorders/internal/observability"
)

// SecurityHeaders sets baseline security headers for all responses.
func (h *Handlers) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// RequireAdminToken guards operator routes with the ADMIN_API_TOKEN bearer token.
func (h *Handlers) RequireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meter := observability.MeterFromContext(r.Context())
		meter.SetAttributes(attribute.String("component", "security.admin_token"))

		token, ok := bearerToken(r)
		if !ok {
			meter.Count("security.admin_token.blocked", 1, sentry.WithAttributes(attribute.String("reason", "missing_token")))
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			h.writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !tokensEqual(token, h.config.AdminAPIToken) {
			meter.Count("security.admin_token.blocked", 1, sentry.WithAttributes(attribute.String("reason", "invalid_token")))
			h.loggerFromContext(r.Context()).Warn("rejected admin request with invalid token", "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			h.writeError(w, r, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokensEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
