package httpkit

import (
	"net/http"
	"strings"

	perrs "takt/internal/platform/errors"
)

// BearerToken returns the raw bearer token from the Authorization header
func BearerToken(r *http.Request) (string, error) {
	authz := r.Header.Get("Authorization")
	if strings.TrimSpace(authz) == "" {
		return "", perrs.Unauthorizedf("missing bearer token")
	}
	// case-insensitive Bearer prefix (don't trim the whole header first)
	const prefix = "bearer "
	if len(authz) < len(prefix) || strings.ToLower(authz[:len(prefix)]) != prefix {
		return "", perrs.Unauthorizedf("missing bearer token")
	}
	raw := strings.TrimSpace(authz[len(prefix):])
	if raw == "" {
		return "", perrs.Unauthorizedf("missing bearer token")
	}
	return raw, nil
}

// MustBearerToken returns the raw bearer token or panics
// only use on routes protected by the ops token middleware
func MustBearerToken(r *http.Request) string {
	raw, err := BearerToken(r)
	if err != nil {
		panic(err)
	}
	return raw
}
