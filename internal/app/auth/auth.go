// Package auth holds the token claims and account view shared between the
// authentication manager and the HTTP layer's JWT validators.
package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT payload issued to and validated for platform users. It
// embeds the registered claim set so it satisfies jwt.Claims directly.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
	Tenant   string `json:"tenant,omitempty"`
}

// User is a minimal account view of a platform user. authmgr.Manager works
// with carbon.User and does not return this type.
type User struct {
	ID       string
	Email    string
	Role     string
	Tenant   string
	IsActive bool
}
