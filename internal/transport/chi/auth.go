package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuthMiddleware returns a middleware that requires "Authorization: Bearer <password>".
// If password is empty, every request is refused: the admin surface is disabled.
func AdminAuthMiddleware(password string) func(http.Handler) http.Handler {
	want := []byte(password)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				writeError(w, http.StatusForbidden, CodeAdminDisabled, "admin password is not configured")
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					CodeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			got := []byte(auth[len(bearerPrefix):])
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid admin password")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
