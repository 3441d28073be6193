// Copyright 2025 James Ross
package authz

// SeedBuiltinPermissions installs the RolePermission rows spec.md §4.8's
// built-in role chain implies, "re-applied on migration to enforce
// recovery": read_only can read its own jobs, artifacts and query
// definitions, contributor adds self-service write actions on its own
// resources, curator adds reads of system-owned artifacts and query
// definitions, admin adds system-wide operations, and platform_admin (the
// most derived role; read_only is the DAG's root) gets unrestricted global
// access.
// Composition roots call this once at startup; it is safe to call again
// (GrantPermission only appends, so re-seeding on every startup is
// idempotent in effect even though the underlying slice grows).
func SeedBuiltinPermissions(k *Kernel) {
	selfFilter := map[string]bool{"owner=self": true}

	readOnlyActions := []struct{ resourceType, action string }{
		{"job", "read"},
		{"artifact", "read"},
		{"query_definition", "read"},
	}
	for _, a := range readOnlyActions {
		k.GrantPermission(RolePermission{Role: RoleReadOnly, ResourceType: a.resourceType, Action: a.action, ScopeType: ScopeFilter, ScopeFilter: selfFilter, Granted: true})
	}

	contributorActions := []struct{ resourceType, action string }{
		{"document", "ingest"},
		{"job", "cancel"},
		{"job", "approve"},
		{"artifact", "create"},
		{"artifact", "regenerate"},
		{"artifact", "delete"},
		{"query_definition", "create"},
		{"query_definition", "execute"},
	}
	for _, a := range contributorActions {
		k.GrantPermission(RolePermission{Role: RoleContributor, ResourceType: a.resourceType, Action: a.action, ScopeType: ScopeFilter, ScopeFilter: selfFilter, Granted: true})
	}

	// curator inherits contributor and additionally may act on system-owned
	// (owner_id == "") vocabulary/annealing artifacts.
	systemFilter := map[string]bool{"is_system=true": true}
	k.GrantPermission(RolePermission{Role: RoleCurator, ResourceType: "artifact", Action: "read", ScopeType: ScopeFilter, ScopeFilter: systemFilter, Granted: true})
	k.GrantPermission(RolePermission{Role: RoleCurator, ResourceType: "query_definition", Action: "read", ScopeType: ScopeFilter, ScopeFilter: systemFilter, Granted: true})

	// admin: system-wide operations with no ownership restriction.
	adminActions := []struct{ resourceType, action string }{
		{"admin", "backup"},
		{"admin", "restore"},
		{"job", "read"},
		{"job", "cancel"},
		{"job", "approve"},
		{"artifact", "read"},
		{"artifact", "delete"},
		{"query_definition", "read"},
	}
	for _, a := range adminActions {
		k.GrantPermission(RolePermission{Role: RoleAdmin, ResourceType: a.resourceType, Action: a.action, ScopeType: ScopeGlobal, Granted: true})
	}

	// platform_admin: unrestricted, for every resource type the HTTP surface
	// names (spec.md §6.1's route table).
	platformResourceTypes := []string{"admin", "job", "artifact", "query_definition", "document"}
	platformActions := []string{"read", "create", "cancel", "approve", "regenerate", "delete", "execute", "ingest", "backup", "restore"}
	for _, rt := range platformResourceTypes {
		for _, action := range platformActions {
			k.GrantPermission(RolePermission{Role: RolePlatformAdmin, ResourceType: rt, Action: action, ScopeType: ScopeGlobal, Granted: true})
		}
	}
}
