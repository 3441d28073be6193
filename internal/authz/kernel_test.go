// Copyright 2025 James Ross
package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalGrantViaInheritedRole(t *testing.T) {
	k := New()
	k.GrantPermission(RolePermission{Role: RoleReadOnly, ResourceType: "job", Action: "read", ScopeType: ScopeGlobal, Granted: true})

	p := Principal{UserID: "u1", Roles: []string{RoleCurator}}
	result := k.HasPermission(p, "job", "read", "", nil)
	require.True(t, result.Allowed)
}

func TestExplicitDenyOverridesLowerGrant(t *testing.T) {
	k := New()
	k.GrantPermission(RolePermission{Role: RoleReadOnly, ResourceType: "job", Action: "delete", ScopeType: ScopeGlobal, Granted: true})
	k.GrantPermission(RolePermission{Role: RoleContributor, ResourceType: "job", Action: "delete", ScopeType: ScopeGlobal, Granted: false})

	p := Principal{UserID: "u1", Roles: []string{RoleContributor}}
	result := k.HasPermission(p, "job", "delete", "", nil)
	require.False(t, result.Allowed)
}

func TestFilterScopeOwnerSelf(t *testing.T) {
	k := New()
	k.GrantPermission(RolePermission{
		Role: RoleContributor, ResourceType: "job", Action: "cancel",
		ScopeType: ScopeFilter, ScopeFilter: map[string]bool{"owner=self": true}, Granted: true,
	})

	p := Principal{UserID: "u1", Roles: []string{RoleContributor}}
	allowed := k.HasPermission(p, "job", "cancel", "job-1", &Target{OwnerID: "u1"})
	require.True(t, allowed.Allowed)

	denied := k.HasPermission(p, "job", "cancel", "job-2", &Target{OwnerID: "other-user"})
	require.False(t, denied.Allowed)
}

func TestInstanceScopeMatchesScopeID(t *testing.T) {
	k := New()
	k.GrantPermission(RolePermission{
		Role: RoleReadOnly, ResourceType: "artifact", Action: "read",
		ScopeType: ScopeInstance, Granted: true,
	})

	p := Principal{UserID: "u1", Roles: []string{RoleReadOnly}}
	allowed := k.HasPermission(p, "artifact", "read", "artifact-1", &Target{ScopeID: "artifact-1"})
	require.True(t, allowed.Allowed)

	denied := k.HasPermission(p, "artifact", "read", "artifact-2", &Target{ScopeID: "artifact-1"})
	require.False(t, denied.Allowed)
}

func TestResourceGrantFallsBackWhenNoRolePermissionMatches(t *testing.T) {
	k := New()
	k.GrantResource(ResourceGrant{ResourceType: "artifact", ResourceID: "artifact-9", PrincipalType: "user", PrincipalID: "u2", Permission: "read"})

	p := Principal{UserID: "u2", Roles: []string{RoleReadOnly}}
	result := k.HasPermission(p, "artifact", "read", "artifact-9", nil)
	require.True(t, result.Allowed)
}

func TestPublicGroupGrantAppliesToAnyUser(t *testing.T) {
	k := New()
	k.GrantResource(ResourceGrant{ResourceType: "artifact", ResourceID: "artifact-public", PrincipalType: "group", PrincipalID: PublicGroupID, Permission: "read"})

	p := Principal{UserID: "anyone", GroupIDs: []string{PublicGroupID}}
	result := k.HasPermission(p, "artifact", "read", "artifact-public", nil)
	require.True(t, result.Allowed)
}

func TestDefaultDenyWithNoMatch(t *testing.T) {
	k := New()
	p := Principal{UserID: "u1", Roles: []string{RoleReadOnly}}
	result := k.HasPermission(p, "job", "delete", "job-1", nil)
	require.False(t, result.Allowed)
}

func TestPlatformAdminInheritsEntireChain(t *testing.T) {
	k := New()
	k.GrantPermission(RolePermission{Role: RoleReadOnly, ResourceType: "job", Action: "read", ScopeType: ScopeGlobal, Granted: true})

	p := Principal{UserID: "root", Roles: []string{RolePlatformAdmin}}
	result := k.HasPermission(p, "job", "read", "", nil)
	require.True(t, result.Allowed)
}
