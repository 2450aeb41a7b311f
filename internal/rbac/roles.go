package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCustomer = "customer"
	// RoleSupport can read order audit trails but cannot move money.
	RoleSupport = "support"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleCustomer, RoleSupport, RoleAdmin:
		return true
	}
	return false
}
