package auth

// Principal is any entity making a request. The core never owns identity;
// it consumes an authenticated principal with a tenant binding and roles.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is the plain implementation used by the middleware.
type BasePrincipal struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *BasePrincipal) GetID() string       { return b.ID }
func (b *BasePrincipal) GetTenantID() string { return b.TenantID }
func (b *BasePrincipal) GetRoles() []string  { return b.Roles }

// HasRole reports role membership; admin implies every role.
func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == "admin" {
			return true
		}
	}
	return false
}
