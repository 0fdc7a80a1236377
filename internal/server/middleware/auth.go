package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/faucetdb/keyhub/internal/model"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// SessionValidator turns a session token into a principal.
type SessionValidator interface {
	Validate(token string) (*model.Principal, error)
}

// SessionToken returns the session token carried by r: the named cookie
// first, then an Authorization Bearer header. It returns "" when neither is
// present.
func SessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Authenticate returns an HTTP middleware that requires a valid session from
// the session cookie or a Bearer token. On success the principal is attached
// to the request context; otherwise a 401 JSON error is written. A principal
// already attached by OptionalSession is reused.
func Authenticate(sessions SessionValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPrincipal(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := sessions.Validate(SessionToken(r, cookieName))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// OptionalSession attaches the principal when the request carries a valid
// session and passes the request through unchanged otherwise. Used by pages
// that render a sign-in prompt for anonymous visitors.
func OptionalSession(sessions SessionValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := SessionToken(r, cookieName); tok != "" {
				if p, err := sessions.Validate(tok); err == nil {
					r = r.WithContext(WithPrincipal(r.Context(), p))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
