package domain

import "fmt"

// TokenKind discriminates the credential variants a source can support.
type TokenKind int

const (
	KindNone TokenKind = iota
	KindUsernamePassword
	KindBearer
)

func (k TokenKind) String() string {
	switch k {
	case KindUsernamePassword:
		return "username_password"
	case KindBearer:
		return "bearer"
	default:
		return "none"
	}
}

// AuthenticationToken is a credential presented with a request.
type AuthenticationToken interface {
	Kind() TokenKind
	// Identifier returns the non-secret part of the credential, used for
	// logging and cache keys.
	Identifier() string
	// Secret returns the secret part of the credential.
	Secret() string
}

// UsernamePasswordToken carries a username and a plaintext password.
type UsernamePasswordToken struct {
	Username   string
	Password   string
	RememberMe bool
}

func (UsernamePasswordToken) Kind() TokenKind      { return KindUsernamePassword }
func (t UsernamePasswordToken) Identifier() string { return t.Username }
func (t UsernamePasswordToken) Secret() string     { return t.Password }

func (t UsernamePasswordToken) String() string {
	return fmt.Sprintf("username_password(username:%s password:*******)", t.Username)
}

// BearerToken carries a signed token string read from a request header.
type BearerToken struct {
	Raw string
}

func (BearerToken) Kind() TokenKind    { return KindBearer }
func (BearerToken) Identifier() string { return "" }
func (t BearerToken) Secret() string   { return t.Raw }

func (BearerToken) String() string { return "bearer(*******)" }

// NoCredential stands for a request that presented no credential at all.
// No source supports it.
type NoCredential struct{}

func (NoCredential) Kind() TokenKind    { return KindNone }
func (NoCredential) Identifier() string { return "" }
func (NoCredential) Secret() string     { return "" }
