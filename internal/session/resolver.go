// Package session resolves which tenant partition a request operates on.
package session

import (
	"context"
	"strings"
)

// SuperAdminID is the session marker of the head-office tenant.
const SuperAdminID = "admin"

// HeadOfficeName is the display name used when tagging head-office records.
const HeadOfficeName = "Head Office"

// Role is the declared role of a session.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCorporate Role = "CORPORATE"
	RoleEmployee  Role = "EMPLOYEE"
)

// ParseRole normalises a declared role. Unknown values yield the empty role.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCorporate:
		return RoleCorporate
	case RoleEmployee:
		return RoleEmployee
	}
	return ""
}

// TenantContext identifies the data partition of a session.
type TenantContext struct {
	TenantID     string `json:"tenantId"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	Role         Role   `json:"role"`
}

// Resolve maps a session marker and an optional declared role to a tenant.
// An absent marker means head office. The marker alone decides the partition;
// the role only distinguishes employee sessions from corporate ones.
func Resolve(marker string, role Role) TenantContext {
	marker = strings.TrimSpace(marker)
	if marker == "" || marker == SuperAdminID {
		return SuperAdmin()
	}
	if role == RoleEmployee {
		return Employee(marker)
	}
	return Corporate(marker)
}

// SuperAdmin returns the head-office tenant.
func SuperAdmin() TenantContext {
	return TenantContext{TenantID: SuperAdminID, IsSuperAdmin: true, Role: RoleAdmin}
}

// Corporate returns the tenant of a corporate account, keyed by its email.
func Corporate(email string) TenantContext {
	return TenantContext{TenantID: email, Role: RoleCorporate}
}

// Employee returns the tenant of an individual employee session.
func Employee(sessionID string) TenantContext {
	return TenantContext{TenantID: sessionID, Role: RoleEmployee}
}

type contextKey struct{}

// WithTenant stores the tenant in ctx.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant stored in ctx, defaulting to head office.
func FromContext(ctx context.Context) TenantContext {
	if tc, ok := ctx.Value(contextKey{}).(TenantContext); ok {
		return tc
	}
	return SuperAdmin()
}
