// Package authz decides whether an actor may see or invoke something.
// Roles and permission tokens are closed enums with one canonical
// role-to-permission table; the historical string vocabularies are accepted
// only through the adapter in tokens.go.
package authz

import (
	"fmt"
	"strings"
)

// Role is an actor's single primary role.
type Role string

const (
	RoleApplicant  Role = "applicant"
	RoleContractor Role = "contractor"
	RoleReviewer   Role = "reviewer"
	RoleAdmin      Role = "admin"
)

// Roles lists every role in escalation order.
var Roles = []Role{RoleApplicant, RoleContractor, RoleReviewer, RoleAdmin}

// ParseRole normalizes a role string. The legacy name "user" maps to applicant.
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "user" {
		norm = string(RoleApplicant)
	}
	for _, r := range Roles {
		if norm == string(r) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Permission is an opaque capability token granted via role membership.
type Permission string

const (
	PermRead      Permission = "read"
	PermCreate    Permission = "create"
	PermUpdate    Permission = "update"
	PermUpdateOwn Permission = "update_own"
	PermDelete    Permission = "delete"
	PermSubmit    Permission = "submit"
	PermReview    Permission = "review"
	PermApprove   Permission = "approve"
	PermReject    Permission = "reject"
	PermAdmin     Permission = "admin"
)

// rolePermissions is the canonical derivation table. Permissions are derived
// from the role, never stored independently.
var rolePermissions = map[Role][]Permission{
	RoleApplicant:  {PermRead, PermCreate, PermUpdateOwn},
	RoleContractor: {PermRead, PermCreate, PermUpdateOwn, PermSubmit},
	RoleReviewer:   {PermRead, PermCreate, PermUpdateOwn, PermSubmit, PermReview, PermApprove, PermReject},
	RoleAdmin:      {PermRead, PermCreate, PermUpdate, PermDelete, PermSubmit, PermReview, PermApprove, PermReject, PermAdmin},
}

// PermissionsFor returns the derived permission set for a role.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Actor is the authenticated caller snapshot the engine evaluates against.
type Actor struct {
	ID            string
	Role          Role
	Permissions   []Permission
	Authenticated bool
}

// NewActor builds an authenticated actor with role-derived permissions.
func NewActor(id string, role Role) Actor {
	return Actor{
		ID:            id,
		Role:          role,
		Permissions:   PermissionsFor(role),
		Authenticated: true,
	}
}

// Anonymous is the unauthenticated actor.
func Anonymous() Actor {
	return Actor{}
}

// Has reports whether the actor holds the permission token.
func (a Actor) Has(p Permission) bool {
	for _, held := range a.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool    { return a.Has(PermAdmin) }
func (a Actor) IsReviewer() bool { return a.Has(PermReview) }

// HasRole is an exact-match check; there is no role hierarchy.
func HasRole(a Actor, allowed ...Role) bool {
	for _, r := range allowed {
		if a.Role == r {
			return true
		}
	}
	return false
}

// HasAllPermissions is true iff every required token is held.
func HasAllPermissions(a Actor, required ...Permission) bool {
	for _, p := range required {
		if !a.Has(p) {
			return false
		}
	}
	return true
}

// HasAnyPermission is true iff at least one required token is held.
func HasAnyPermission(a Actor, required ...Permission) bool {
	for _, p := range required {
		if a.Has(p) {
			return true
		}
	}
	return false
}

// Reason explains an access decision.
type Reason string

const (
	ReasonNotAuthenticated           Reason = "NOT_AUTHENTICATED"
	ReasonInsufficientRole           Reason = "INSUFFICIENT_ROLE"
	ReasonInsufficientPermissions    Reason = "INSUFFICIENT_PERMISSIONS"
	ReasonInsufficientAnyPermissions Reason = "INSUFFICIENT_ANY_PERMISSIONS"
	ReasonAuthorized                 Reason = "AUTHORIZED"
)

func (r Reason) inverted() Reason {
	return Reason(string(r) + "_INVERTED")
}

// AccessSpec declares what a surface or action requires. Role, all-of and
// any-of checks compose under AND. InvertLogic expresses "hide from role X"
// as the inverse of "show only to role X".
type AccessSpec struct {
	AllowedRoles           []Role
	RequiredPermissions    []Permission
	RequiredAnyPermissions []Permission
	InvertLogic            bool
}

// Decision is the result of evaluating an AccessSpec.
type Decision struct {
	Granted bool
	Reason  Reason
}

// Evaluate applies the spec to the actor. It is pure and idempotent.
// Unauthenticated actors are always denied: InvertLogic never flips the
// NOT_AUTHENTICATED short-circuit.
func Evaluate(a Actor, spec AccessSpec) Decision {
	if !a.Authenticated {
		return Decision{Granted: false, Reason: ReasonNotAuthenticated}
	}
	d := evaluate(a, spec)
	if spec.InvertLogic {
		d.Granted = !d.Granted
		d.Reason = d.Reason.inverted()
	}
	return d
}

func evaluate(a Actor, spec AccessSpec) Decision {
	if len(spec.AllowedRoles) > 0 && !HasRole(a, spec.AllowedRoles...) {
		return Decision{Granted: false, Reason: ReasonInsufficientRole}
	}
	if len(spec.RequiredPermissions) > 0 && !HasAllPermissions(a, spec.RequiredPermissions...) {
		return Decision{Granted: false, Reason: ReasonInsufficientPermissions}
	}
	if len(spec.RequiredAnyPermissions) > 0 && !HasAnyPermission(a, spec.RequiredAnyPermissions...) {
		return Decision{Granted: false, Reason: ReasonInsufficientAnyPermissions}
	}
	return Decision{Granted: true, Reason: ReasonAuthorized}
}

// NotAuthenticatedError is returned when no actor snapshot is present.
type NotAuthenticatedError struct{}

func (NotAuthenticatedError) Error() string { return "authentication required" }

// PermissionError carries the denial reason from Evaluate.
type PermissionError struct {
	Reason     Reason
	Permission Permission
}

func (e PermissionError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// Require returns an error unless the actor holds the permission.
func Require(a Actor, p Permission) error {
	if !a.Authenticated {
		return NotAuthenticatedError{}
	}
	if !a.Has(p) {
		return PermissionError{Reason: ReasonInsufficientPermissions, Permission: p}
	}
	return nil
}
