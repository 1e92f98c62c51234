package user

import (
	"context"
	"testing"
	"time"

	"foodgram-backend/domain"
	"foodgram-backend/entities"
	"foodgram-backend/pkg/jwt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (UserService, *gorm.DB) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.User{}, &entities.Subscription{}))

	return NewUserService(NewUserRepository(db), jwt.NewJWTService()), db
}

func registerRequest(username string) domain.RegisterRequest {
	return domain.RegisterRequest{
		Email:     username + "@example.com",
		Username:  username,
		FirstName: "Test",
		LastName:  "User",
		Password:  "s3cret-pass",
	}
}

func TestRegister(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	res, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "alice@example.com", res.Email)
	assert.False(t, res.IsSubscribed)
	assert.NotEmpty(t, res.ID)
}

func TestRegisterDuplicates(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)

	_, err = service.Register(ctx, registerRequest("alice"))
	assert.ErrorIs(t, err, domain.ErrEmailAlreadyUsed)

	dup := registerRequest("alice")
	dup.Email = "other@example.com"
	_, err = service.Register(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestLogin(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)

	res, err := service.Login(ctx, domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "alice", res.User.Username)

	_, err = service.Login(ctx, domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, domain.ErrWrongCredentials)

	// unknown email is indistinguishable from a bad password
	_, err = service.Login(ctx, domain.LoginRequest{
		Email:    "nobody@example.com",
		Password: "s3cret-pass",
	})
	assert.ErrorIs(t, err, domain.ErrWrongCredentials)
}

func TestGetUserSubscribedFlag(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	alice, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)
	bob, err := service.Register(ctx, registerRequest("bob"))
	require.NoError(t, err)

	aliceUUID := uuid.MustParse(alice.ID)
	bobUUID := uuid.MustParse(bob.ID)
	require.NoError(t, db.Create(&entities.Subscription{UserID: aliceUUID, AuthorID: bobUUID}).Error)

	res, err := service.GetUser(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, res.IsSubscribed)

	// anonymous viewer
	res, err = service.GetUser(ctx, bob.ID, "")
	require.NoError(t, err)
	assert.False(t, res.IsSubscribed)

	// the other direction is not subscribed
	res, err = service.GetUser(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, res.IsSubscribed)

	_, err = service.GetUser(ctx, uuid.NewString(), "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSetPassword(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	alice, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)

	err = service.SetPassword(ctx, domain.SetPasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "new-pass",
	}, alice.ID)
	assert.ErrorIs(t, err, domain.ErrWrongPassword)

	err = service.SetPassword(ctx, domain.SetPasswordRequest{
		CurrentPassword: "s3cret-pass",
		NewPassword:     "new-pass",
	}, alice.ID)
	require.NoError(t, err)

	_, err = service.Login(ctx, domain.LoginRequest{Email: "alice@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, domain.ErrWrongCredentials)

	_, err = service.Login(ctx, domain.LoginRequest{Email: "alice@example.com", Password: "new-pass"})
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, registerRequest("alice"))
	require.NoError(t, err)

	token, err := jwt.NewJWTService().GenerateTokenResetPassword("alice@example.com", time.Minute)
	require.NoError(t, err)

	err = service.ResetPassword(ctx, domain.ResetPasswordRequest{
		Token:       token,
		NewPassword: "after-reset",
	})
	require.NoError(t, err)

	_, err = service.Login(ctx, domain.LoginRequest{Email: "alice@example.com", Password: "after-reset"})
	assert.NoError(t, err)

	err = service.ResetPassword(ctx, domain.ResetPasswordRequest{
		Token:       "not-a-token",
		NewPassword: "whatever",
	})
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)
}
