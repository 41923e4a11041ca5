package types

import "github.com/golang-jwt/jwt/v4"

// Claims carries the identity issued by the external auth service.
// Only the subject (user id) and role are consumed.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

const ROLE_ADMIN = "admin"
