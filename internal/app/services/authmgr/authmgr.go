// Package authmgr issues and validates the JWTs the HTTP API authenticates
// requests with, and hashes/verifies user passwords.
package authmgr

import (
	"context"
	"errors"
	"time"

	"github.com/carbonledger/platform/internal/app/auth"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for both unknown emails and wrong
// passwords, so login failures never reveal which half was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInactiveUser is returned when a valid credential belongs to a
// deactivated account.
var ErrInactiveUser = errors.New("account is deactivated")

// Manager hashes passwords and issues/validates the HS256 JWTs used by the
// HTTP layer's Authorization: Bearer header.
type Manager struct {
	users  storage.UserStore
	secret []byte
}

// New builds a Manager. An empty secret is allowed (it satisfies local/dev
// runs) but Issue will still produce a usable, if unsigned-for-production,
// token.
func New(users storage.UserStore, secret string) *Manager {
	return &Manager{users: users, secret: []byte(secret)}
}

// Register hashes password and creates a new user account.
func (m *Manager) Register(ctx context.Context, email, password string) (carbon.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return carbon.User{}, err
	}
	return m.users.CreateUser(ctx, carbon.User{
		Email:          email,
		HashedPassword: string(hash),
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	})
}

// Authenticate verifies email/password and returns the matching user.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (carbon.User, error) {
	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		return carbon.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return carbon.User{}, ErrInactiveUser
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return carbon.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Issue signs a JWT for user valid for ttl, carrying the caller-supplied
// role/company claims (role and company membership are resolved per-company
// by the handler, not embedded permanently in the account).
func (m *Manager) Issue(user carbon.User, role, companyID string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: user.Email,
		Role:     role,
		Tenant:   companyID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a bearer token, returning its claims.
func (m *Manager) Validate(tokenString string) (*auth.Claims, error) {
	claims := &auth.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
