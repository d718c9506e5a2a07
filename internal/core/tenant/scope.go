// Package tenant carries the caller's tenant context through ledger calls.
//
// Tenancy is row-level: every stock row has a client_id. The HTTP layer
// resolves a Scope once per request and passes it explicitly to the ledger;
// the ledger never looks up an ambient tenant on its own.
package tenant

import (
	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
)

// Scope identifies who is calling and on behalf of which tenant.
type Scope struct {
	// TenantID is the caller's tenant. For privileged callers it is set only
	// when the target tenant was named explicitly.
	TenantID id.ID

	// ActorID is the user performing the operation, if known.
	ActorID *id.ID

	// Privileged callers may operate across tenants.
	Privileged bool
}

// NewScope builds a tenant-bound scope for a regular caller.
func NewScope(tenantID id.ID, actorID *id.ID) Scope {
	return Scope{TenantID: tenantID, ActorID: actorID}
}

// NewPrivilegedScope builds a cross-tenant scope. target may be nil.
func NewPrivilegedScope(target *id.ID, actorID *id.ID) Scope {
	s := Scope{ActorID: actorID, Privileged: true}
	if target != nil {
		s.TenantID = *target
	}
	return s
}

// HasTenant reports whether a tenant is bound to the scope.
func (s Scope) HasTenant() bool {
	return !id.IsNil(s.TenantID)
}

// WriteTenant resolves the tenant a write applies to.
//
// Privileged callers must name the tenant explicitly. Regular callers always
// write to their own tenant; mismatch is true when an explicit tenant was
// given and differs, so the caller can log it.
func (s Scope) WriteTenant(explicit *id.ID) (tenantID id.ID, mismatch bool, err error) {
	if s.Privileged {
		if !id.IsSet(explicit) {
			return id.ID{}, false, apperror.NewMissingTenant("privileged caller must specify tenant_id")
		}
		return *explicit, false, nil
	}

	if !s.HasTenant() {
		return id.ID{}, false, apperror.NewMissingTenant("tenant context is required")
	}
	if id.IsSet(explicit) && *explicit != s.TenantID {
		return s.TenantID, true, nil
	}
	return s.TenantID, false, nil
}

// ReadTenant returns the tenant filter for reads. A nil result means the read
// is unscoped, which only privileged callers without a target get.
func (s Scope) ReadTenant() (*id.ID, error) {
	if s.HasTenant() {
		t := s.TenantID
		return &t, nil
	}
	if s.Privileged {
		return nil, nil
	}
	return nil, apperror.NewMissingTenant("tenant context is required")
}

// CanAccess reports whether the scope may touch rows of tenantID.
func (s Scope) CanAccess(tenantID id.ID) bool {
	if s.Privileged {
		return true
	}
	return s.HasTenant() && s.TenantID == tenantID
}
