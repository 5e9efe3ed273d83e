package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Identity is the requesting caller. All store access is performed "as" this
// identity; the gateway never elevates privilege.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Roles          []string
}

// HasRole reports whether the identity holds the named role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// PermissionFingerprint returns a stable hash of the identity's permission
// surface (organization plus sorted roles). It is folded into cache keys so
// callers with diverging rights never share a cached result.
func (id Identity) PermissionFingerprint() string {
	roles := append([]string(nil), id.Roles...)
	for i := range roles {
		roles[i] = strings.ToLower(roles[i])
	}
	sort.Strings(roles)
	sum := sha256.Sum256([]byte(id.OrganizationID.String() + "|" + strings.Join(roles, ",")))
	return hex.EncodeToString(sum[:])
}

type contextKey string

const identityKey contextKey = "identity"

// ContextWithIdentity returns a new context carrying the authenticated caller.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated caller from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.UserID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}

// Middleware extracts the caller identity from request headers and stores it
// on the request context. Requests without a parsable identity are rejected;
// authentication itself is handled upstream of this service.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(strings.TrimSpace(r.Header.Get("X-User-ID")))
		if err != nil {
			http.Error(w, "missing or invalid X-User-ID header", http.StatusUnauthorized)
			return
		}
		orgID, err := uuid.Parse(strings.TrimSpace(r.Header.Get("X-Organization-ID")))
		if err != nil {
			http.Error(w, "missing or invalid X-Organization-ID header", http.StatusUnauthorized)
			return
		}
		var roles []string
		if raw := strings.TrimSpace(r.Header.Get("X-Roles")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					roles = append(roles, trimmed)
				}
			}
		}
		id := Identity{UserID: userID, OrganizationID: orgID, Roles: roles}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// RequireIdentity returns the caller from the context or an error suitable
// for a 401 response.
func RequireIdentity(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, fmt.Errorf("no authenticated identity on request")
	}
	return id, nil
}
