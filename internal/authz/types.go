// Copyright 2025 James Ross
// Package authz implements the Authorisation Kernel (spec.md §4.8):
// role-DAG permission resolution plus per-instance resource grants.
// Grounded on the teacher's internal/rbac-and-tokens.Manager.Authorize
// (admin-wins short-circuit, composite cache key, AuthorizationResult with
// a human-readable Reason), generalized from a flat role→permission table
// to the spec's role-inheritance DAG and three scope types.
package authz

// ScopeType is how a RolePermission's grant is bounded (spec.md §4.8 step 2).
type ScopeType string

const (
	ScopeGlobal   ScopeType = "global"
	ScopeFilter   ScopeType = "filter"
	ScopeInstance ScopeType = "instance"
)

// Built-in role inheritance chain (spec.md §4.8 "Built-in roles"). Builtins
// cannot be deleted and are re-seeded on migration (spec.md §4.8); this
// package only encodes the DAG edges, not the seeding job.
const (
	RoleReadOnly      = "read_only"
	RoleContributor   = "contributor"
	RoleCurator       = "curator"
	RoleAdmin         = "admin"
	RolePlatformAdmin = "platform_admin"
)

// BuiltinParents is the builtin role → parent_role edge set forming the
// base of the role DAG (spec.md §3 "Role{role_name, parent_role,
// is_builtin}"). Custom roles extend this map at runtime via Kernel.DefineRole.
var BuiltinParents = map[string]string{
	RoleContributor:   RoleReadOnly,
	RoleCurator:       RoleContributor,
	RoleAdmin:         RoleCurator,
	RolePlatformAdmin: RoleAdmin,
}

// RolePermission is one (role, resource_type, action) grant or deny
// (spec.md §3 "RolePermission").
type RolePermission struct {
	Role         string
	ResourceType string
	Action       string
	ScopeType    ScopeType
	ScopeID      string          // scope_type=instance
	ScopeFilter  map[string]bool // scope_type=filter: recognised keys owner=self, is_system=true
	Granted      bool
}

// ResourceGrant is a per-instance access grant (spec.md §3 "ResourceGrant").
type ResourceGrant struct {
	ResourceType string
	ResourceID   string
	PrincipalType string // "user" | "group"
	PrincipalID  string
	Permission   string // action name
}

// PublicGroupID is the implicit group every authenticated (and, per §6.3,
// every unauthenticated) request is a member of (spec.md §3 "Group").
const PublicGroupID = "1"

// Target is the object a filter- or instance-scoped permission check is
// evaluated against (spec.md §4.8 step 2's "target object").
type Target struct {
	OwnerID  string
	IsSystem bool
	ScopeID  string
}

// Principal is the resolved identity HasPermission evaluates: the user's
// directly assigned roles and group memberships (always including the
// public group, per spec.md §6.3 "unauthenticated access maps to the
// public group").
type Principal struct {
	UserID   string
	Roles    []string
	GroupIDs []string
}

// Result is the outcome of one authorisation check, mirroring the
// teacher's AuthorizationResult shape for audit-log consumption.
type Result struct {
	Allowed bool
	Reason  string
}
