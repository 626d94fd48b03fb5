package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	perr "takt/internal/platform/errors"
	pnet "takt/internal/platform/net"
)

// OpsToken guards admin routes with a shared bearer token
// an empty token disables the check so local dev stays friction free
func OpsToken(token string, write func(w http.ResponseWriter, status int, body any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				err := perr.Unauthorizedf("invalid ops token")
				status, body := pnet.Error(err, pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
