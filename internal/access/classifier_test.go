package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxql/fluxql/internal/auth"
)

func newTestJWTManager() *auth.JWTManager {
	return auth.NewJWTManagerWithConfig("test-secret", time.Hour, 24*time.Hour, time.Hour, time.Hour)
}

func TestNewJWTClassifier_ServiceRoleToken(t *testing.T) {
	manager := newTestJWTManager()
	token, err := manager.GenerateServiceRoleToken()
	require.NoError(t, err)

	role, ok := NewJWTClassifier(manager)(token)
	require.True(t, ok)
	assert.Equal(t, RoleServiceRole, role)
}

func TestNewJWTClassifier_AnonToken(t *testing.T) {
	manager := newTestJWTManager()
	token, err := manager.GenerateAnonToken()
	require.NoError(t, err)

	role, ok := NewJWTClassifier(manager)(token)
	require.True(t, ok)
	assert.Equal(t, RoleAnon, role)
}

func TestNewJWTClassifier_GarbageRejected(t *testing.T) {
	manager := newTestJWTManager()
	_, ok := NewJWTClassifier(manager)("not-a-jwt-at-all")
	assert.False(t, ok)
}

func TestNewJWTClassifier_WrongSigningSecretRejected(t *testing.T) {
	issuer := newTestJWTManager()
	token, err := issuer.GenerateAnonToken()
	require.NoError(t, err)

	verifier := auth.NewJWTManagerWithConfig("a-different-secret", time.Hour, 24*time.Hour, time.Hour, time.Hour)
	_, ok := NewJWTClassifier(verifier)(token)
	assert.False(t, ok)
}
