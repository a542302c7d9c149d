// Package identity extracts the acting principal from the access token.
// The upstream API is the verifier of record; the core only needs the
// claim payload, so the token is parsed without signature verification.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clientdesk/clientdesk/internal/permission"
)

// Principal is the authenticated user as seen by the core.
type Principal struct {
	UserID string
	Roles  []permission.Role
}

// IsCreator reports whether the principal created the record with the
// given creator id.
func (p Principal) IsCreator(creatorID string) bool {
	return p.UserID != "" && p.UserID == creatorID
}

// claims is the expected access-token claim shape.
type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// FromAccessToken parses the principal out of an access token. Unknown
// role values are dropped; a missing subject is an error.
func FromAccessToken(token string) (Principal, error) {
	var c claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return Principal{}, fmt.Errorf("parsing access token: %w", err)
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("access token has no subject")
	}

	roles := make([]permission.Role, 0, len(c.Roles))
	for _, raw := range c.Roles {
		if r, ok := permission.ParseRole(raw); ok {
			roles = append(roles, r)
		}
	}
	return Principal{UserID: c.Subject, Roles: roles}, nil
}
