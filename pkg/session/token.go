package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// TokenIssuer signs and parses the local session token. The token's JTI is
// the session record ID; its subject is the user ID once authenticated.
// This token is purely a session reference, not an identity assertion -
// identity state lives in the server-side record.
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer creates a token issuer with the given HMAC secret
func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Secret exposes the signing secret for the verification middleware
func (t *TokenIssuer) Secret() []byte {
	return t.secret
}

// Issue signs a session token for the given record
func (t *TokenIssuer) Issue(s Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID.String(),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt.UTC()),
	}
	if s.UserID != uuid.Nil {
		claims.Subject = s.UserID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionID verifies a session token and extracts the session record
// ID from its JTI
func (t *TokenIssuer) ParseSessionID(tokenString string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return uuid.Nil, ssoerr.Wrap(err, ssoerr.ErrCodeUnauthorized, "invalid session token")
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, ssoerr.Wrap(err, ssoerr.ErrCodeUnauthorized, "invalid session token id")
	}
	return id, nil
}
