// Package auth reads the caller identity forwarded by the upstream gateway.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderAPIKey   = "x-api-key"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID int
	Admin  bool
}

// OwnerFilter returns the owner id queries must be scoped to, or 0 for
// admins who see everything.
func (p Principal) OwnerFilter() int {
	if p.Admin {
		return 0
	}
	return p.UserID
}

// CanRead reports whether the caller may see a resource owned by ownerID.
func (p Principal) CanRead(ownerID int) bool {
	return p.Admin || p.UserID == ownerID
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Middleware rejects requests without a valid user id header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		if err != nil || id <= 0 {
			http.Error(w, "missing or invalid user", http.StatusUnauthorized)
			return
		}
		p := Principal{
			UserID: id,
			Admin:  strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), "admin"),
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireServiceKey guards service-to-service endpoints. An empty key
// disables the check.
func RequireServiceKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderAPIKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
