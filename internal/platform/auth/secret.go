package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/op17/storefront-api/internal/platform/requestctx"
)

// RequireSharedSecret guards internal endpoints with a static secret header. An empty secret
// leaves the endpoint open, which is how local environments run.
func RequireSharedSecret(header, secret string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	expected := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			provided := []byte(r.Header.Get(header))
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				requestctx.Logger(r.Context()).Warn("shared secret rejected",
					zap.String("header", header),
					zap.Bool("present", len(provided) > 0),
				)
				respondAuthError(w, http.StatusUnauthorized, "unauthorized", "shared secret missing or invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
