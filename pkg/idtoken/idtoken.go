// Package idtoken decodes the identity token's claim payload.
//
// No signature verification is performed here: the token is only ever
// obtained through the direct, provider-authenticated token-endpoint
// exchange, which is the trust boundary. If a token is ever accepted from
// any other source, signature/issuer/audience verification must be added
// before these claims can be trusted.
package idtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// Claims is the decoded identity-token payload
type Claims map[string]interface{}

// standardClaims is the fixed set of claims Entra issues in every identity
// token; everything outside this set is a custom claim.
var standardClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "auth_time": {},
	"nonce": {}, "at_hash": {}, "c_hash": {}, "acr": {}, "amr": {}, "azp": {},
	"email": {}, "email_verified": {}, "family_name": {}, "given_name": {},
	"name": {}, "preferred_username": {}, "oid": {}, "tid": {}, "ver": {},
	"rh": {}, "uti": {}, "aio": {}, "ipaddr": {}, "unique_name": {},
}

// Decode parses the claim payload out of a compact-serialized identity
// token. The token must have exactly three dot-separated segments; the
// middle segment is decoded as URL-safe base64 into a JSON claim mapping.
func Decode(idToken string) (Claims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, ssoerr.Newf(ssoerr.ErrCodeMalformedToken, "invalid ID token format: expected 3 segments, got %d", len(parts))
	}

	// URL-safe alphabet to standard alphabet, then standard decode with
	// padding tolerance
	payload := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	decoded, err := base64.StdEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, ssoerr.Wrap(err, ssoerr.ErrCodeMalformedToken, "invalid ID token payload encoding")
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, ssoerr.Wrap(err, ssoerr.ErrCodeMalformedToken, "invalid ID token payload")
	}

	return claims, nil
}

// CustomClaims returns every claim whose name is not in the standard set
func CustomClaims(claims Claims) map[string]interface{} {
	custom := make(map[string]interface{})
	for name, value := range claims {
		if _, ok := standardClaims[name]; !ok {
			custom[name] = value
		}
	}
	return custom
}

// DecodeCustomClaims decodes a token and returns only its custom claims
func DecodeCustomClaims(idToken string) (map[string]interface{}, error) {
	claims, err := Decode(idToken)
	if err != nil {
		return nil, err
	}
	return CustomClaims(claims), nil
}
