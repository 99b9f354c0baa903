package jwtutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adk-sentryskin/shopify-sync/pkg/jwtutil"
)

func TestGenerateAndValidate(t *testing.T) {
	util := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "k", ExpirationHours: 1})

	token, err := util.GenerateToken("ops", jwtutil.RoleAdmin, "")
	require.NoError(t, err)

	claims, err := util.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, jwtutil.RoleAdmin, claims.Role)
	assert.True(t, claims.CanAccessTenant("any"))
}

func TestTenantScopedToken(t *testing.T) {
	util := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "k", ExpirationHours: 1})

	token, err := util.GenerateToken("merchant-ui", "tenant", "m-1")
	require.NoError(t, err)

	claims, err := util.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.CanAccessTenant("m-1"))
	assert.False(t, claims.CanAccessTenant("m-2"))
}

func TestValidateRejectsForeignKeyAndExpired(t *testing.T) {
	signer := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "a", ExpirationHours: 1})
	verifier := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "b", ExpirationHours: 1})

	token, err := signer.GenerateToken("ops", jwtutil.RoleAdmin, "")
	require.NoError(t, err)
	_, err = verifier.ValidateToken(token)
	require.Error(t, err)

	expiring := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "a", ExpirationHours: -1})
	token, err = expiring.GenerateToken("ops", jwtutil.RoleAdmin, "")
	require.NoError(t, err)
	_, err = signer.ValidateToken(token)
	require.Error(t, err)

	_, err = signer.ValidateToken("not-a-jwt")
	require.Error(t, err)
}
