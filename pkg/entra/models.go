package entra

import (
	"time"
)

// DefaultExpiresIn is used when the token endpoint omits expires_in
const DefaultExpiresIn = 3600

// TokenSet holds the tokens produced by a code or refresh exchange.
// A refresh supersedes the whole set; it is never merged field by field,
// except that callers must retain the previous refresh token when the
// provider omits a new one (refresh tokens may be stable).
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// tokenResponse is the wire format of the token endpoint
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Profile is the Graph /me projection consumed by the login flow
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}

// Email returns the user's email, preferring mail over userPrincipalName
func (p Profile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

// Group is a directory group membership entry from Graph /me/memberOf.
// Order is significant: role resolution is first-match-wins in the order
// the directory returns.
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// AppRoleAssignment is an entry from Graph /me/appRoleAssignments
type AppRoleAssignment struct {
	ID                   string `json:"id"`
	AppRoleID            string `json:"appRoleId"`
	PrincipalDisplayName string `json:"principalDisplayName,omitempty"`
	ResourceDisplayName  string `json:"resourceDisplayName,omitempty"`
}

// directoryList is the Graph collection envelope
type directoryList[T any] struct {
	Value []T `json:"value"`
}
