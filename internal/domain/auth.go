package domain

// Role is resolved once per inbound event.
type Role string

const (
	RoleRequester  Role = "REQUESTER"
	RoleHandler    Role = "HANDLER"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsHandler reports whether the role may work tickets.
func (r Role) IsHandler() bool {
	return r == RoleHandler || r == RoleSuperAdmin
}

// Actor is the party behind an inbound event.
type Actor struct {
	ID       PartyID
	Name     string
	Username string
	Role     Role
}

// DisplayName prefers the @username, then the full name.
func (a Actor) DisplayName() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	if a.Name != "" {
		return a.Name
	}
	return "operator"
}
