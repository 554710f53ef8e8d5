package models

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Caller is the verified identity behind a request. It is passed explicitly
// into every engine operation.
type Caller struct {
	UserID string
	Roles  []string
}

// SystemCaller is used by timers and other internal triggers.
func SystemCaller() Caller {
	return Caller{UserID: "system", Roles: []string{RoleSystem}}
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c Caller) IsSystem() bool { return c.HasRole(RoleSystem) }

func (c Caller) IsAdmin() bool { return c.HasRole(RoleAdmin) }

// Privileged callers may resolve disputes and act on any order.
func (c Caller) Privileged() bool { return c.IsSystem() || c.IsAdmin() }
