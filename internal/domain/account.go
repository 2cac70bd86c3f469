package domain

// Account is a stored password credential together with the identity it
// resolves to.
type Account struct {
	Username string
	// PasswordHash is the hex-encoded iterated digest of Salt+password.
	PasswordHash string
	Salt         string

	ID       string
	Name     string
	Type     PrincipalType
	Roles    []string
	Disabled bool
}

// Principal builds the identity an authenticated account resolves to.
func (a Account) Principal(source string) Principal {
	id := a.ID
	if id == "" {
		id = a.Username
	}
	name := a.Name
	if name == "" {
		name = a.Username
	}
	ptype := a.Type
	if ptype == PrincipalUnknown {
		ptype = PrincipalUser
	}
	return Principal{
		ID:     id,
		Name:   name,
		Type:   ptype,
		Roles:  append([]string(nil), a.Roles...),
		Source: source,
	}
}
