package jwt

import (
	"testing"
	"time"

	"foodgram-backend/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) JWTService {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	return NewJWTService()
}

func TestUserTokenRoundtrip(t *testing.T) {
	service := newTestService(t)

	userID := uuid.NewString()
	token := service.GenerateTokenUser(userID, domain.RoleUser)
	require.NotEmpty(t, token)

	gotID, gotRole, err := service.GetUserIDByToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, domain.RoleUser, gotRole)
}

func TestUserTokenInvalid(t *testing.T) {
	service := newTestService(t)

	_, _, err := service.GetUserIDByToken("not-a-token")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	// signed with a different secret
	t.Setenv("JWT_SECRET", "other-secret")
	other := NewJWTService()
	_, _, err = service.GetUserIDByToken(other.GenerateTokenUser(uuid.NewString(), domain.RoleUser))
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestResetTokenRoundtrip(t *testing.T) {
	service := newTestService(t)

	token, err := service.GenerateTokenResetPassword("alice@example.com", time.Minute)
	require.NoError(t, err)

	email, err := service.ValidateTokenResetPassword(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestResetTokenRejected(t *testing.T) {
	service := newTestService(t)

	_, err := service.ValidateTokenResetPassword("not-a-token")
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)

	expired, err := service.GenerateTokenResetPassword("alice@example.com", -time.Minute)
	require.NoError(t, err)
	_, err = service.ValidateTokenResetPassword(expired)
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)

	// a login token must not pass as a reset token
	userToken := service.GenerateTokenUser(uuid.NewString(), domain.RoleUser)
	_, err = service.ValidateTokenResetPassword(userToken)
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)
}
