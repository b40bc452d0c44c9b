package httpserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/medgate/inference-gateway/internal/domain"
)

// RequireAuth enforces static bearer auth on the API when a gateway key is
// configured. With no key configured the middleware passes everything
// through, so dev boxes run open.
func (s *Server) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Cfg.AuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
				writeError(w, r, fmt.Errorf("op=auth.bearer: %w: missing bearer token", domain.ErrUnauthorized), nil)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.Cfg.GatewayAPIKey)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
				writeError(w, r, fmt.Errorf("op=auth.bearer: %w: invalid bearer token", domain.ErrUnauthorized), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken pulls the token out of the Authorization header. The scheme
// match is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
