// Copyright 2025 James Ross
package authz

import (
	"fmt"
	"sync"
)

// Kernel resolves HasPermission against a role-permission table and a
// per-instance resource-grant table (spec.md §4.8).
type Kernel struct {
	mu          sync.RWMutex
	parents     map[string]string // role -> parent_role, builtin + custom
	permissions []RolePermission
	grants      []ResourceGrant

	cacheMu sync.RWMutex
	cache   map[string]Result
}

// New constructs a Kernel seeded with the builtin role DAG.
func New() *Kernel {
	parents := make(map[string]string, len(BuiltinParents))
	for role, parent := range BuiltinParents {
		parents[role] = parent
	}
	return &Kernel{parents: parents, cache: make(map[string]Result)}
}

// DefineRole registers a custom role's parent_role edge (no-op for builtin
// roles, which are fixed). Invalidates the authz cache since the DAG
// changed.
func (k *Kernel) DefineRole(role, parentRole string) {
	if _, builtin := BuiltinParents[role]; builtin || role == RoleReadOnly {
		return
	}
	k.mu.Lock()
	k.parents[role] = parentRole
	k.mu.Unlock()
	k.invalidateCache()
}

// GrantPermission appends a RolePermission; rows already present are kept,
// not replaced. Invalidates the cache.
func (k *Kernel) GrantPermission(rp RolePermission) {
	k.mu.Lock()
	k.permissions = append(k.permissions, rp)
	k.mu.Unlock()
	k.invalidateCache()
}

// GrantResource adds a per-instance ResourceGrant (spec.md §4.8 step 3).
func (k *Kernel) GrantResource(rg ResourceGrant) {
	k.mu.Lock()
	k.grants = append(k.grants, rg)
	k.mu.Unlock()
	k.invalidateCache()
}

func (k *Kernel) invalidateCache() {
	k.cacheMu.Lock()
	k.cache = make(map[string]Result)
	k.cacheMu.Unlock()
}

// effectiveRoles returns roles plus every ancestor reachable via
// parent_role (spec.md §4.8 step 1: "transitive closure").
func (k *Kernel) effectiveRoles(roles []string) map[string]bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	effective := make(map[string]bool)
	var walk func(role string)
	walk = func(role string) {
		if effective[role] {
			return
		}
		effective[role] = true
		if parent, ok := k.parents[role]; ok {
			walk(parent)
		}
	}
	for _, r := range roles {
		walk(r)
	}
	return effective
}

func cacheKey(p Principal, resourceType, action, resourceID string) string {
	return fmt.Sprintf("%s|%v|%s|%s|%s", p.UserID, p.Roles, resourceType, action, resourceID)
}

// HasPermission implements spec.md §4.8's four-step resolution.
func (k *Kernel) HasPermission(p Principal, resourceType, action, resourceID string, target *Target) Result {
	key := cacheKey(p, resourceType, action, resourceID)
	k.cacheMu.RLock()
	if cached, ok := k.cache[key]; ok {
		k.cacheMu.RUnlock()
		return cached
	}
	k.cacheMu.RUnlock()

	result := k.resolve(p, resourceType, action, resourceID, target)

	k.cacheMu.Lock()
	k.cache[key] = result
	k.cacheMu.Unlock()
	return result
}

func (k *Kernel) resolve(p Principal, resourceType, action, resourceID string, target *Target) Result {
	effective := k.effectiveRoles(p.Roles)

	k.mu.RLock()
	permissions := make([]RolePermission, len(k.permissions))
	copy(permissions, k.permissions)
	grants := make([]ResourceGrant, len(k.grants))
	copy(grants, k.grants)
	k.mu.RUnlock()

	// Step 2: scan every role-permission matching (resource_type, action)
	// across all effective roles. An explicit deny at ANY matching role
	// overrides any grant (spec.md §4.8: "An explicit deny ... at any role
	// in the inheritance chain overrides any grant below it").
	anyAllow := false
	for _, rp := range permissions {
		if rp.ResourceType != resourceType || rp.Action != action || !effective[rp.Role] {
			continue
		}
		switch rp.ScopeType {
		case ScopeGlobal:
			if !rp.Granted {
				return Result{Allowed: false, Reason: fmt.Sprintf("role %q explicitly denies %s:%s", rp.Role, resourceType, action)}
			}
			anyAllow = true
		case ScopeFilter:
			if matchesFilter(rp.ScopeFilter, p.UserID, target) {
				if !rp.Granted {
					return Result{Allowed: false, Reason: fmt.Sprintf("role %q explicitly denies %s:%s by filter", rp.Role, resourceType, action)}
				}
				anyAllow = true
			}
		case ScopeInstance:
			if target != nil && target.ScopeID == resourceID && resourceID != "" {
				if !rp.Granted {
					return Result{Allowed: false, Reason: fmt.Sprintf("role %q explicitly denies instance %s", rp.Role, resourceID)}
				}
				anyAllow = true
			}
		}
	}
	if anyAllow {
		return Result{Allowed: true, Reason: "granted by role permission"}
	}

	// Step 3: per-instance resource grants, direct to user then via any
	// group the user belongs to (always including the public group).
	for _, rg := range grants {
		if rg.ResourceType != resourceType || rg.ResourceID != resourceID || rg.Permission != action {
			continue
		}
		if rg.PrincipalType == "user" && rg.PrincipalID == p.UserID {
			return Result{Allowed: true, Reason: "granted by direct resource grant"}
		}
		if rg.PrincipalType == "group" && principalInGroups(rg.PrincipalID, p.GroupIDs) {
			return Result{Allowed: true, Reason: fmt.Sprintf("granted by group %s resource grant", rg.PrincipalID)}
		}
	}

	// Step 4: default deny.
	return Result{Allowed: false, Reason: "no matching permission or resource grant"}
}

// matchesFilter evaluates scope_filter's recognised keys, combined with AND
// (spec.md §4.8 step 2 "scope_type=filter").
func matchesFilter(filter map[string]bool, userID string, target *Target) bool {
	if target == nil {
		return len(filter) == 0
	}
	for key, want := range filter {
		switch key {
		case "owner=self":
			if (target.OwnerID == userID) != want {
				return false
			}
		case "is_system=true":
			if target.IsSystem != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func principalInGroups(principalID string, groupIDs []string) bool {
	for _, g := range groupIDs {
		if g == principalID {
			return true
		}
	}
	return principalID == PublicGroupID
}
