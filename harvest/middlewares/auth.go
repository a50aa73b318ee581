// harvest/middlewares/auth.go
package middlewares

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	httputils "harvest/harvest/utils/http"
	"harvest/harvest/utils/logging"
)

// TokenHeader carries the shared secret on every request.
const TokenHeader = "X-API-Token"

// TokenAuth rejects requests whose X-API-Token does not equal token. Rejected
// requests never reach the handler.
func TokenAuth(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(TokenHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				logging.RequestLogger.Warn("rejected unauthenticated request",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
				)
				httputils.WriteError(w, http.StatusUnauthorized, "invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
