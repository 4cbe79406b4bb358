package fakeapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authclient/token"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access-token claims attached by the guard.
func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*token.AccessClaims)
	return c, ok
}

// guard rejects requests without a valid bearer token. With optional set, a
// request without an Authorization header passes as a guest, but a present and
// invalid token is still rejected.
func (s *Server) guard(optional bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" && optional {
			next(w, r)
			return
		}

		raw, ok := bearerToken(header)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}

		claims, err := s.issuer.Parse(raw, s.now())
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	t := value[len(bearer):]
	if t == "" {
		return "", false
	}

	return t, true
}
