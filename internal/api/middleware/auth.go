package middleware

import (
	"context"
	"net/http"

	"github.com/gatherly/server/internal/api/problem"
	"github.com/gatherly/server/internal/auth"
)

type contextKey string

const userKey contextKey = "user"

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   string
	Username string
}

// SessionCookieName carries the signed token for browser sessions.
const SessionCookieName = "gatherly_session"

// Authenticate resolves the caller from a bearer token or the session cookie
// and stores the identity in the context. Requests without credentials pass
// through anonymous; handlers that need a user enforce it with RequireUser.
func Authenticate(tokens *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				if cookie, cookieErr := r.Cookie(SessionCookieName); cookieErr == nil {
					tokenString = cookie.Value
				}
			}
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				// Invalid credentials are worse than none: reject rather
				// than downgrade to anonymous.
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, "")
				return
			}

			identity := Identity{UserID: claims.Subject, Username: claims.Username}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", auth.ErrMissingToken, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, userKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(userKey).(Identity)
	return identity, ok
}

// UserID returns the caller's user ID, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.UserID
}
