package auth

import (
	"context"
	"strings"
)

// Roles the service distinguishes. The set is open: unknown values fall
// back to sales-level access.
const (
	RoleSales     = "sales"
	RoleAssistant = "assistant"
	RoleManager   = "manager"
	RoleAdmin     = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	Email string
	Name  string
	Role  string
	Dept  string
	// ForceChange is set when the account still uses the default or a
	// weak password; the UI blocks everything but a password change.
	ForceChange bool
}

// CanViewAll reports whether the identity may read other users' data.
func (id Identity) CanViewAll() bool {
	return id.Role == RoleManager || id.Role == RoleAdmin
}

// User is one row of the Users worksheet.
type User struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Dept         string
	Status       string
	FailAttempts int
	LastFailTime string
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// ContextWithIdentity stores the authenticated identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || strings.TrimSpace(id.Email) == "" {
		return Identity{}, false
	}
	return id, true
}
