package middleware

import (
	"net/http"
	"strings"

	"github.com/autograph/gnnsearch/pkg/auth"
	"github.com/autograph/gnnsearch/pkg/logging"
)

// RequireToken rejects requests that do not carry a token accepted by g,
// either as "Authorization: Bearer <token>" or in X-API-Key. Paths listed
// in public are served without a token.
func RequireToken(g *auth.TokenGuard, logger *logging.Logger, public ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if err := g.Validate(Token(r)); err != nil {
				logger.Warn("Rejected unauthenticated request", map[string]interface{}{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				})
				w.Header().Set("WWW-Authenticate", `Bearer realm="gnnsearch"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Token extracts the API token from a request
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.Header.Get("X-API-Key")
}
