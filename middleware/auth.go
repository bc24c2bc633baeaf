package middleware

import (
	"context"
	"net/http"
	"strings"

	accounts "github.com/MrEthical07/goAccounts"
)

// Identity is the authenticated principal attached to the request
// context by RequireAuth.
type Identity struct {
	UserUUID string
	Role     accounts.Role
}

type identityContextKey struct{}

// IdentityFromContext returns the principal set by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// RequireAuth validates the bearer access token and attaches the
// resulting Identity to the request context. Guests pass; use
// RequireRole to keep them out of account-level routes.
func RequireAuth(engine *accounts.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			userUUID, role, err := engine.ValidateAccess(token)
			if err != nil {
				status, msg := accounts.ErrorStatusText(err)
				http.Error(w, msg, status)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, Identity{
				UserUUID: userUUID,
				Role:     role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose principal does not hold one of the
// given roles. Must run after RequireAuth.
func RequireRole(roles ...accounts.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
