// Package policy decides who can see and act on asset requests.
//
// Every authorization rule lives here: the closed set of roles, the per-role
// visibility predicate (as a gorm scope and as an in-memory check), the
// distributor set a user may submit against, and the single Authorize / Can
// entry point used by the services.
package policy

// Role is one of the five account types. Anything else is treated as no access.
type Role string

const (
	RoleSE    Role = "SE"
	RoleBM    Role = "BM"
	RoleRH    Role = "RH"
	RoleDB    Role = "DB"
	RoleAdmin Role = "Admin"
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleSE, RoleBM, RoleRH, RoleDB, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleSE, RoleBM, RoleRH, RoleDB, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole converts a stored role string. Unknown values return false.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Actor is the authenticated caller passed explicitly into every core operation.
type Actor struct {
	ID            uint
	Role          Role
	DistributorID *uint // DB users only
}

// CanCreate reports whether the role may submit new requests.
func (a Actor) CanCreate() bool {
	return a.Role == RoleSE || a.Role == RoleDB || a.Role == RoleAdmin
}

// CanFilterByRequester reports whether listing and export honour a requester filter.
func (a Actor) CanFilterByRequester() bool {
	return a.Role == RoleAdmin || a.Role == RoleBM || a.Role == RoleRH || a.Role == RoleDB
}
