package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims, key []byte) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func validClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sessions.resonantbio.com",
			Audience:  jwt.ClaimStrings{"portal"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		EmployeeID:     uuid.NewString(),
		OrganizationID: uuid.NewString(),
		Role:           RolePractitioner,
	}
}

func doRequest(mw echo.MiddlewareFunc, token string) (*httptest.ResponseRecorder, Actor) {
	e := echo.New()
	var got Actor
	handler := mw(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, got
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{
		Issuer:     "sessions.resonantbio.com",
		Audience:   "portal",
		SigningKey: testKey,
	})

	claims := validClaims()
	rec, actor := doRequest(mw, signToken(t, claims, testKey))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if actor.EmployeeID.String() != claims.EmployeeID {
		t.Errorf("employee = %s, want %s", actor.EmployeeID, claims.EmployeeID)
	}
	if actor.Role != RolePractitioner {
		t.Errorf("role = %s, want %s", actor.Role, RolePractitioner)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{
		Issuer:     "sessions.resonantbio.com",
		Audience:   "portal",
		SigningKey: testKey,
	})

	badRole := validClaims()
	badRole.Role = "SUPERUSER"

	badIssuer := validClaims()
	badIssuer.Issuer = "somewhere-else"

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noEmployee := validClaims()
	noEmployee.EmployeeID = "not-a-uuid"

	tests := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"garbage token", "not.a.jwt"},
		{"wrong key", signToken(t, validClaims(), []byte("other-key"))},
		{"unknown role", signToken(t, badRole, testKey)},
		{"wrong issuer", signToken(t, badIssuer, testKey)},
		{"expired", signToken(t, expired, testKey)},
		{"bad employee id", signToken(t, noEmployee, testKey)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(mw, tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	orgID := uuid.New()
	rec, actor := doRequest(DevAuthMiddleware(orgID), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if actor.OrganizationID != orgID {
		t.Errorf("org = %s, want %s", actor.OrganizationID, orgID)
	}
	if actor.Role != RoleAdmin {
		t.Errorf("role = %s, want %s", actor.Role, RoleAdmin)
	}
}

func TestRequireRole(t *testing.T) {
	run := func(role string, required ...string) int {
		e := echo.New()
		handler := RequireRole(required...)(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		actor := Actor{EmployeeID: uuid.New(), OrganizationID: uuid.New(), Role: role}
		req = req.WithContext(WithActor(req.Context(), actor))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := handler(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec.Code
	}

	if code := run(RoleBillingManager, RoleBillingManager); code != http.StatusOK {
		t.Errorf("matching role: status = %d, want 200", code)
	}
	if code := run(RoleStaff, RoleBillingManager); code != http.StatusForbidden {
		t.Errorf("wrong role: status = %d, want 403", code)
	}
	if code := run(RoleAdmin, RoleBillingManager); code != http.StatusOK {
		t.Errorf("admin bypass: status = %d, want 200", code)
	}
}
