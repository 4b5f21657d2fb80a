package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)
	id := uuid.New()

	token, err := m.GenerateAccessToken(id, RoleProfessional, RoleCustomer)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.True(t, claims.HasRole(RoleProfessional))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)

	other, err := NewJWTManager("other", time.Minute, time.Hour).GenerateAccessToken(uuid.New())
	require.NoError(t, err)
	_, err = m.ValidateToken(other)
	assert.Error(t, err, "wrong secret")

	expired, err := NewJWTManager("secret", -time.Minute, time.Hour).GenerateAccessToken(uuid.New())
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.Error(t, err, "expired")

	noUser, err := m.GenerateAccessToken(uuid.Nil)
	require.NoError(t, err)
	_, err = m.ValidateToken(noUser)
	assert.Error(t, err)

	_, err = m.ValidateToken("not.a.token")
	assert.Error(t, err)
}
