package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/errs"
)

func TestResolveOpenModeWhenUnconfigured(t *testing.T) {
	a := newAuthenticator(config.API{})
	assert.False(t, a.enabled())

	id, err := a.resolve(httptest.NewRequest("GET", "/api/buttons", nil))
	require.NoError(t, err)
	assert.False(t, id.Bound)
	assert.True(t, id.Admin())
	assert.True(t, id.CanReadTenant("anyone"))
}

func TestResolveSimpleToken(t *testing.T) {
	a := newAuthenticator(config.API{AuthTokens: []string{"tok1"}})

	r := httptest.NewRequest("GET", "/api/buttons", nil)
	_, err := a.resolve(r)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthRequired, errs.CodeOf(err))

	r.Header.Set("Authorization", "Basic tok1")
	_, err = a.resolve(r)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthInvalid, errs.CodeOf(err))

	r.Header.Set("Authorization", "Bearer wrong")
	_, err = a.resolve(r)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthInvalid, errs.CodeOf(err))

	r.Header.Set("Authorization", "Bearer tok1")
	id, err := a.resolve(r)
	require.NoError(t, err)
	assert.True(t, id.Authenticated)
	// Simple tokens authenticate without binding a tenant.
	assert.False(t, id.Bound)
	assert.True(t, id.Admin())
}

func TestResolveRoleKeyedTokens(t *testing.T) {
	a := newAuthenticator(config.API{AuthKeys: []string{
		"t1:operator=optok",
		"admin=admintok",
	}})

	r := httptest.NewRequest("GET", "/api/buttons", nil)
	r.Header.Set("Authorization", "Bearer optok")
	id, err := a.resolve(r)
	require.NoError(t, err)
	assert.True(t, id.Bound)
	assert.Equal(t, "t1", id.TenantID)
	assert.Equal(t, "operator", id.Role)
	assert.False(t, id.Admin())
	assert.True(t, id.CanReadTenant("t1"))
	assert.False(t, id.CanReadTenant("t2"))

	r.Header.Set("Authorization", "Bearer admintok")
	id, err = a.resolve(r)
	require.NoError(t, err)
	assert.True(t, id.Bound)
	assert.Empty(t, id.TenantID)
	assert.Equal(t, AdminRole, id.Role)
	assert.True(t, id.Admin())
	assert.True(t, id.CanReadTenant("t2"))
}

func signedJWT(t *testing.T, secret, tenant, role string, expires time.Time) string {
	t.Helper()
	claims := jwtClaims{
		TenantID: tenant,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestResolveJWT(t *testing.T) {
	a := newAuthenticator(config.API{JWTSecret: "hmac-secret"})

	r := httptest.NewRequest("GET", "/api/buttons", nil)
	r.Header.Set("Authorization", "Bearer "+signedJWT(t, "hmac-secret", "t1", "operator", time.Now().Add(time.Hour)))
	id, err := a.resolve(r)
	require.NoError(t, err)
	assert.True(t, id.Bound)
	assert.Equal(t, "t1", id.TenantID)
	assert.Equal(t, "operator", id.Role)

	// Wrong secret.
	r.Header.Set("Authorization", "Bearer "+signedJWT(t, "other-secret", "t1", "operator", time.Now().Add(time.Hour)))
	_, err = a.resolve(r)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthInvalid, errs.CodeOf(err))

	// Expired.
	r.Header.Set("Authorization", "Bearer "+signedJWT(t, "hmac-secret", "t1", "operator", time.Now().Add(-time.Hour)))
	_, err = a.resolve(r)
	assert.Error(t, err)
}

func TestNewAuthenticatorSkipsMalformedKeys(t *testing.T) {
	a := newAuthenticator(config.API{AuthKeys: []string{"noequals", "role="}})
	assert.False(t, a.enabled())
}
