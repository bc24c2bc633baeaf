package middleware

import (
	"net/http"

	accounts "github.com/MrEthical07/goAccounts"
)

// CSRFHeader is the request header carrying the CSRF token issued
// alongside the access token.
const CSRFHeader = "X-CSRF-Token"

// RequireCSRF checks the CSRF header against the authenticated
// principal on state-changing methods. Safe methods pass through.
// Must run after RequireAuth.
func RequireCSRF(engine *accounts.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if err := engine.ValidateCSRF(r.Header.Get(CSRFHeader), id.UserUUID); err != nil {
				status, msg := accounts.ErrorStatusText(err)
				http.Error(w, msg, status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
