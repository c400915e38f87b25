package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/toolgate/domain"
	"go.pilab.hu/toolgate/middleware"
)

var secret = []byte("test-secret-of-reasonable-length")

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()

	v, err := middleware.NewTokenVerifier(secret)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, ok := domain.IdentityFromContext(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusTeapot)
		}
		return c.JSON(http.StatusOK, id)
	}, middleware.JWTAuth(v))
	e.DELETE("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, middleware.JWTAuth(v), middleware.RequireElevated())

	return e
}

func do(e *echo.Echo, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func sign(t *testing.T, key []byte, id domain.Identity, ttl time.Duration) string {
	t.Helper()
	tok, err := middleware.SignToken(key, id, ttl, time.Now())
	require.NoError(t, err)
	return tok
}

func TestJWTAuth_Valid(t *testing.T) {
	e := newEcho(t)
	tok := sign(t, secret, domain.Identity{UserID: "u1", Email: "u1@example.com", Name: "User One", Role: domain.RoleUser}, time.Hour)

	rec := do(e, http.MethodGet, "/me", tok)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"u1","email":"u1@example.com","name":"User One","role":"User"}`, rec.Body.String())
}

func TestJWTAuth_Rejects(t *testing.T) {
	e := newEcho(t)
	id := domain.Identity{UserID: "u1"}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + sign(t, []byte("another-secret"), id, time.Hour)},
		{"expired", "Bearer " + sign(t, secret, id, -time.Minute)},
		{"alg none", "Bearer " + none},
		{"no expiry", "Bearer " + noExp},
		{"no subject", "Bearer " + sign(t, secret, domain.Identity{}, time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
		})
	}
}

func TestRequireElevated(t *testing.T) {
	e := newEcho(t)

	user := sign(t, secret, domain.Identity{UserID: "u1", Role: domain.RoleUser}, time.Hour)
	rec := do(e, http.MethodDelete, "/admin", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"access_denied"`)

	admin := sign(t, secret, domain.Identity{UserID: "u2", Role: domain.RoleSuperAdmin}, time.Hour)
	rec = do(e, http.MethodDelete, "/admin", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := middleware.NewTokenVerifier(nil)
	assert.Error(t, err)
}
