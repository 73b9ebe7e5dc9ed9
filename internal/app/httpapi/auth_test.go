package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/carbonledger/platform/internal/app"
	"github.com/carbonledger/platform/internal/app/auth"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

func TestWrapWithAuthRejectsWhenNoTokensConfigured(t *testing.T) {
	var called bool
	wrapped := wrapWithAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), nil, logger.NewDefault("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/companies", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when tokens are missing, got %d", rec.Code)
	}
	if called {
		t.Fatalf("expected handler not to be invoked when unauthorised")
	}

	// Public endpoints should remain accessible.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz to be served, got %d", rec.Code)
	}
}

func TestSupabaseJWTValidator(t *testing.T) {
	secret := "supabase-secret"
	aud := "authenticated"
	claims := &auth.Claims{
		Username: "alice",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{aud},
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	validator := NewSupabaseJWTValidator(secret, aud, nil, "", "")
	got, err := validator.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Username != "alice" || got.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", got)
	}

	// Audience mismatch should fail.
	badValidator := NewSupabaseJWTValidator(secret, "other", nil, "", "")
	if _, err := badValidator.Validate(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	// Admin role mapping
	adminClaims := &auth.Claims{
		Username: "svc",
		Role:     "service_role",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{aud},
		},
	}
	adminToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign admin: %v", err)
	}
	adminValidator := NewSupabaseJWTValidator(secret, aud, []string{"service_role"}, "", "")
	mapped, err := adminValidator.Validate(adminToken)
	if err != nil {
		t.Fatalf("validate admin: %v", err)
	}
	if mapped.Role != "admin" {
		t.Fatalf("expected role mapped to admin, got %s", mapped.Role)
	}

	// Role claim mapping
	roleClaims := jwt.MapClaims{
		"sub": "dave",
		"aud": aud,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"app": map[string]any{"role": "service_role"},
	}
	roleToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, roleClaims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign role: %v", err)
	}
	roleValidator := NewSupabaseJWTValidator(secret, aud, []string{"service_role"}, "app.tenant", "app.role")
	roleMapped, err := roleValidator.Validate(roleToken)
	if err != nil {
		t.Fatalf("validate role: %v", err)
	}
	if roleMapped.Role != "admin" {
		t.Fatalf("expected role mapped via claim then admin map, got %s", roleMapped.Role)
	}

	// Tenant claim mapping
	tenantClaims := jwt.MapClaims{
		"sub":    "carol",
		"role":   "user",
		"tenant": "t-123",
		"aud":    aud,
		"exp":    jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"app":    map[string]any{"tenant": "t-456"},
	}
	tenantToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tenantClaims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign tenant: %v", err)
	}
	tenantValidator := NewSupabaseJWTValidator(secret, aud, nil, "app.tenant", "")
	withTenant, err := tenantValidator.Validate(tenantToken)
	if err != nil {
		t.Fatalf("validate tenant: %v", err)
	}
	if withTenant.Tenant != "t-456" {
		t.Fatalf("expected tenant mapped from claim, got %s", withTenant.Tenant)
	}
}

type stubValidator struct {
	claims *auth.Claims
	err    error
}

func (s stubValidator) Validate(string) (*auth.Claims, error) {
	return s.claims, s.err
}

func TestCompositeValidator(t *testing.T) {
	firstErr := stubValidator{err: jwt.ErrTokenInvalidClaims}
	secondOK := stubValidator{claims: &auth.Claims{Username: "bob", Role: "user"}}
	validator := NewCompositeValidator(firstErr, secondOK)

	got, err := validator.Validate("token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Username != "bob" || got.Role != "user" {
		t.Fatalf("unexpected claims: %+v", got)
	}

	// All failing validators bubble the last error.
	allFail := NewCompositeValidator(firstErr, stubValidator{err: jwt.ErrTokenMalformed})
	if _, err := allFail.Validate("token"); err == nil {
		t.Fatalf("expected failure when all validators fail")
	}
}

// fakeAuthManager lets the tenant-enforcement test drive wrapWithAuth without
// a real authmgr.Manager/JWT secret.
type fakeAuthManager struct {
	claims *auth.Claims
}

func (f fakeAuthManager) Register(context.Context, string, string) (carbon.User, error) {
	return carbon.User{}, nil
}
func (f fakeAuthManager) Authenticate(context.Context, string, string) (carbon.User, error) {
	return carbon.User{}, nil
}
func (f fakeAuthManager) Issue(carbon.User, string, string, time.Duration) (string, time.Time, error) {
	return "", time.Time{}, nil
}
func (f fakeAuthManager) Validate(token string) (*auth.Claims, error) {
	if f.claims == nil {
		return nil, jwt.ErrTokenMalformed
	}
	return f.claims, nil
}

func TestRequireTenantHeaderEnforced(t *testing.T) {
	t.Setenv("REQUIRE_TENANT_HEADER", "true")
	application, err := app.New(app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	audit := newAuditLog(10, nil)
	validator := fakeAuthManager{claims: &auth.Claims{Username: "owner@example.com", Role: "owner"}}
	handler := wrapWithAuth(NewHandler(application, validator, audit), nil, logger.NewDefault("test"), validator)

	// Missing tenant should be forbidden.
	req := httptest.NewRequest(http.MethodGet, "/companies", nil)
	req.Header.Set("Authorization", "Bearer any-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when tenant is required, got %d", rec.Code)
	}

	// With a tenant header the request should reach the handler.
	req = httptest.NewRequest(http.MethodGet, "/companies", nil)
	req.Header.Set("Authorization", "Bearer any-token")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusForbidden {
		t.Fatalf("expected request to proceed when tenant provided, got %d", rec.Code)
	}
}
