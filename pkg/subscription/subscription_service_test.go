package subscription

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"foodgram-backend/domain"
	"foodgram-backend/entities"
	"foodgram-backend/pkg/recipe"
	"foodgram-backend/pkg/user"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&entities.User{},
		&entities.Subscription{},
		&entities.Tag{},
		&entities.Ingredient{},
		&entities.Recipe{},
		&entities.RecipeIngredient{},
		&entities.Favorite{},
		&entities.ShoppingCart{},
	))
	return db
}

func newTestService(t *testing.T) (SubscriptionService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	service := NewSubscriptionService(
		NewSubscriptionRepository(db),
		user.NewUserRepository(db),
		recipe.NewRecipeRepository(db),
	)
	return service, db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *entities.User {
	t.Helper()
	user := &entities.User{
		Email:     username + "@example.com",
		Username:  username,
		FirstName: "Test",
		LastName:  "User",
		Password:  "hashed",
		Role:      domain.RoleUser,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestRecipes(t *testing.T, db *gorm.DB, authorID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&entities.Recipe{
			AuthorID:    authorID,
			Name:        fmt.Sprintf("Recipe %d", i+1),
			ImageURL:    "https://bucket.s3.test.amazonaws.com/recipes/r.png",
			Text:        "Stir well.",
			CookingTime: 10,
		}).Error)
	}
}

func TestSubscribe(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	follower := createTestUser(t, db, "follower")
	author := createTestUser(t, db, "author")
	createTestRecipes(t, db, author.ID, 3)

	res, err := service.Subscribe(ctx, follower.ID.String(), author.ID.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, author.Username, res.Username)
	assert.True(t, res.IsSubscribed)
	assert.Len(t, res.Recipes, 3)
	assert.EqualValues(t, 3, res.RecipesCount)
}

func TestSubscribeSelf(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	u := createTestUser(t, db, "loner")

	_, err := service.Subscribe(ctx, u.ID.String(), u.ID.String(), 0)
	assert.ErrorIs(t, err, domain.ErrSelfSubscription)

	// an uppercase spelling of the caller's own id is still a self-follow
	_, err = service.Subscribe(ctx, u.ID.String(), strings.ToUpper(u.ID.String()), 0)
	assert.ErrorIs(t, err, domain.ErrSelfSubscription)

	var count int64
	require.NoError(t, db.Model(&entities.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubscribeTwice(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	follower := createTestUser(t, db, "follower")
	author := createTestUser(t, db, "author")

	_, err := service.Subscribe(ctx, follower.ID.String(), author.ID.String(), 0)
	require.NoError(t, err)

	_, err = service.Subscribe(ctx, follower.ID.String(), author.ID.String(), 0)
	assert.ErrorIs(t, err, domain.ErrAlreadySubscribed)
}

func TestSubscribeUnknownAuthor(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	follower := createTestUser(t, db, "follower")

	_, err := service.Subscribe(ctx, follower.ID.String(), uuid.NewString(), 0)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUnsubscribe(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	follower := createTestUser(t, db, "follower")
	author := createTestUser(t, db, "author")

	_, err := service.Subscribe(ctx, follower.ID.String(), author.ID.String(), 0)
	require.NoError(t, err)

	require.NoError(t, service.Unsubscribe(ctx, follower.ID.String(), author.ID.String()))
	assert.ErrorIs(t, service.Unsubscribe(ctx, follower.ID.String(), author.ID.String()), domain.ErrNotSubscribed)
}

func TestGetSubscriptionsRecipesLimit(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	follower := createTestUser(t, db, "follower")
	author := createTestUser(t, db, "author")
	createTestRecipes(t, db, author.ID, 5)

	_, err := service.Subscribe(ctx, follower.ID.String(), author.ID.String(), 0)
	require.NoError(t, err)

	subs, count, err := service.GetSubscriptions(ctx, follower.ID.String(), 1, 20, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	require.Len(t, subs, 1)
	assert.Len(t, subs[0].Recipes, 2)
	assert.EqualValues(t, 5, subs[0].RecipesCount)
}
