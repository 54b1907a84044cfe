package domain

// Role differentiates customers from support agents.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// Principal is the authenticated caller resolved from a bearer credential.
type Principal struct {
	ID   string
	Role Role
}

// IsAgent reports whether the principal carries agent privileges.
func (p Principal) IsAgent() bool {
	return p.Role == RoleAgent
}
