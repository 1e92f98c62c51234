package recipe

import (
	"context"
	"testing"

	"foodgram-backend/domain"
	"foodgram-backend/entities"
	"foodgram-backend/pkg/ingredient"
	"foodgram-backend/pkg/tag"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeS3 satisfies storage.AwsS3 without touching the network and records
// which objects were deleted.
type fakeS3 struct {
	deleted []string
}

func (f *fakeS3) UploadBase64(fileName, encoded, folder string, allowTypes ...string) (string, error) {
	return folder + "/" + fileName + ".png", nil
}

func (f *fakeS3) DeleteFile(objectKey string) error {
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeS3) GetPublicLinkKey(objectKey string) string {
	return "https://bucket.s3.test.amazonaws.com/" + objectKey
}

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

func newTestService(t *testing.T) (RecipeService, *gorm.DB, *fakeS3) {
	t.Helper()
	db := newTestDB(t)
	s3 := &fakeS3{}
	service := NewRecipeService(
		NewRecipeRepository(db),
		tag.NewTagRepository(db),
		ingredient.NewIngredientRepository(db),
		s3,
	)
	return service, db, s3
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

func createTestTag(t *testing.T, db *gorm.DB, name, color, slug string) *entities.Tag {
	t.Helper()
	tag := &entities.Tag{Name: name, Color: color, Slug: slug}
	require.NoError(t, db.Create(tag).Error)
	return tag
}

func createTestIngredient(t *testing.T, db *gorm.DB, name, unit string) *entities.Ingredient {
	t.Helper()
	ingredient := &entities.Ingredient{Name: name, MeasurementUnit: unit}
	require.NoError(t, db.Create(ingredient).Error)
	return ingredient
}

func validCreateRequest(tagID, ingredientID string) domain.CreateRecipeRequest {
	return domain.CreateRecipeRequest{
		Name:        "Borscht",
		Image:       "aGVsbG8gd29ybGQ=",
		Text:        "Cook the beets first.",
		CookingTime: 45,
		Tags:        []string{tagID},
		Ingredients: []domain.RecipeIngredientRequest{
			{ID: ingredientID, Amount: 2},
		},
	}
}

func TestCreateRecipe(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	res, err := service.CreateRecipe(ctx, validCreateRequest(dinner.ID.String(), beet.ID.String()), author.ID.String())
	require.NoError(t, err)

	assert.Equal(t, "Borscht", res.Name)
	assert.Equal(t, 45, res.CookingTime)
	assert.Equal(t, author.Username, res.Author.Username)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, "dinner", res.Tags[0].Slug)
	require.Len(t, res.Ingredients, 1)
	assert.Equal(t, "beet", res.Ingredients[0].Name)
	assert.Equal(t, "pcs", res.Ingredients[0].MeasurementUnit)
	assert.Equal(t, 2, res.Ingredients[0].Amount)
	assert.NotEmpty(t, res.Image)
}

func TestCreateRecipeValidation(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	tests := []struct {
		name    string
		mutate  func(*domain.CreateRecipeRequest)
		wantErr error
	}{
		{
			name:    "zero amount",
			mutate:  func(r *domain.CreateRecipeRequest) { r.Ingredients[0].Amount = 0 },
			wantErr: domain.ErrAmountTooSmall,
		},
		{
			name:    "zero cooking time",
			mutate:  func(r *domain.CreateRecipeRequest) { r.CookingTime = 0 },
			wantErr: domain.ErrCookingTimeTooShort,
		},
		{
			name:    "no ingredients",
			mutate:  func(r *domain.CreateRecipeRequest) { r.Ingredients = nil },
			wantErr: domain.ErrNoIngredients,
		},
		{
			name: "duplicate ingredient",
			mutate: func(r *domain.CreateRecipeRequest) {
				r.Ingredients = append(r.Ingredients, domain.RecipeIngredientRequest{
					ID: r.Ingredients[0].ID, Amount: 5,
				})
			},
			wantErr: domain.ErrDuplicateIngredient,
		},
		{
			name:    "no tags",
			mutate:  func(r *domain.CreateRecipeRequest) { r.Tags = nil },
			wantErr: domain.ErrNoTags,
		},
		{
			name:    "unknown tag",
			mutate:  func(r *domain.CreateRecipeRequest) { r.Tags = []string{uuid.NewString()} },
			wantErr: domain.ErrTagNotFound,
		},
		{
			name: "unknown ingredient",
			mutate: func(r *domain.CreateRecipeRequest) {
				r.Ingredients = []domain.RecipeIngredientRequest{{ID: uuid.NewString(), Amount: 1}}
			},
			wantErr: domain.ErrIngredientNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest(dinner.ID.String(), beet.ID.String())
			tt.mutate(&req)

			_, err := service.CreateRecipe(ctx, req, author.ID.String())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// no partial rows survive any of the rejected creates
	var recipeCount, lineCount int64
	require.NoError(t, db.Model(&entities.Recipe{}).Count(&recipeCount).Error)
	require.NoError(t, db.Model(&entities.RecipeIngredient{}).Count(&lineCount).Error)
	assert.Zero(t, recipeCount)
	assert.Zero(t, lineCount)
}

func TestUpdateRecipeReplacesIngredientSet(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	flour := createTestIngredient(t, db, "flour", "g")
	sugar := createTestIngredient(t, db, "sugar", "g")

	req := validCreateRequest(dinner.ID.String(), flour.ID.String())
	req.Ingredients[0].Amount = 200
	created, err := service.CreateRecipe(ctx, req, author.ID.String())
	require.NoError(t, err)

	update := domain.UpdateRecipeRequest{
		Name:        created.Name,
		Text:        created.Text,
		CookingTime: created.CookingTime,
		Tags:        []string{dinner.ID.String()},
		Ingredients: []domain.RecipeIngredientRequest{
			{ID: sugar.ID.String(), Amount: 100},
		},
	}

	updated, err := service.UpdateRecipe(ctx, created.ID, update, author.ID.String(), domain.RoleUser)
	require.NoError(t, err)

	require.Len(t, updated.Ingredients, 1)
	assert.Equal(t, "sugar", updated.Ingredients[0].Name)
	assert.Equal(t, 100, updated.Ingredients[0].Amount)

	var lineCount int64
	require.NoError(t, db.Model(&entities.RecipeIngredient{}).Count(&lineCount).Error)
	assert.EqualValues(t, 1, lineCount)
}

func TestUpdateRecipeAuthorization(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	other := createTestUser(t, db, "other")
	admin := createTestUser(t, db, "admin")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	created, err := service.CreateRecipe(ctx, validCreateRequest(dinner.ID.String(), beet.ID.String()), author.ID.String())
	require.NoError(t, err)

	update := domain.UpdateRecipeRequest{
		Name:        "Renamed",
		Text:        created.Text,
		CookingTime: created.CookingTime,
		Tags:        []string{dinner.ID.String()},
		Ingredients: []domain.RecipeIngredientRequest{{ID: beet.ID.String(), Amount: 1}},
	}

	_, err = service.UpdateRecipe(ctx, created.ID, update, other.ID.String(), domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrNotRecipeAuthor)

	_, err = service.UpdateRecipe(ctx, created.ID, update, author.ID.String(), domain.RoleUser)
	assert.NoError(t, err)

	_, err = service.UpdateRecipe(ctx, created.ID, update, admin.ID.String(), domain.RoleAdmin)
	assert.NoError(t, err)

	err = service.DeleteRecipe(ctx, created.ID, other.ID.String(), domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrNotRecipeAuthor)
}

func TestFavoriteRecipe(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	fan := createTestUser(t, db, "fan")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	created, err := service.CreateRecipe(ctx, validCreateRequest(dinner.ID.String(), beet.ID.String()), author.ID.String())
	require.NoError(t, err)

	card, err := service.FavoriteRecipe(ctx, created.ID, fan.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.ID, card.ID)
	assert.Equal(t, created.Name, card.Name)

	_, err = service.FavoriteRecipe(ctx, created.ID, fan.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyFavorited)

	require.NoError(t, service.UnfavoriteRecipe(ctx, created.ID, fan.ID.String()))
	assert.ErrorIs(t, service.UnfavoriteRecipe(ctx, created.ID, fan.ID.String()), domain.ErrNotFavorited)

	_, err = service.FavoriteRecipe(ctx, uuid.NewString(), fan.ID.String())
	assert.ErrorIs(t, err, domain.ErrRecipeNotFound)
}

func TestShoppingCartAggregation(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	buyer := createTestUser(t, db, "buyer")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	salt := createTestIngredient(t, db, "salt", "tsp")
	beet := createTestIngredient(t, db, "beet", "pcs")

	reqA := validCreateRequest(dinner.ID.String(), salt.ID.String())
	reqA.Name = "Recipe A"
	reqA.Ingredients[0].Amount = 2
	recipeA, err := service.CreateRecipe(ctx, reqA, author.ID.String())
	require.NoError(t, err)

	reqB := validCreateRequest(dinner.ID.String(), salt.ID.String())
	reqB.Name = "Recipe B"
	reqB.Ingredients[0].Amount = 3
	reqB.Ingredients = append(reqB.Ingredients, domain.RecipeIngredientRequest{
		ID: beet.ID.String(), Amount: 1,
	})
	recipeB, err := service.CreateRecipe(ctx, reqB, author.ID.String())
	require.NoError(t, err)

	// insertion order must not matter for the aggregate
	_, err = service.AddToCart(ctx, recipeB.ID, buyer.ID.String())
	require.NoError(t, err)
	_, err = service.AddToCart(ctx, recipeA.ID, buyer.ID.String())
	require.NoError(t, err)

	content, err := service.DownloadShoppingCart(ctx, buyer.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "* beet, pcs: 1\n* salt, tsp: 5\n", string(content))

	_, err = service.AddToCart(ctx, recipeA.ID, buyer.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyInCart)

	require.NoError(t, service.RemoveFromCart(ctx, recipeB.ID, buyer.ID.String()))
	assert.ErrorIs(t, service.RemoveFromCart(ctx, recipeB.ID, buyer.ID.String()), domain.ErrNotInCart)

	content, err = service.DownloadShoppingCart(ctx, buyer.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "* salt, tsp: 2\n", string(content))
}

func TestDeleteRecipeCascades(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	fan := createTestUser(t, db, "fan")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	created, err := service.CreateRecipe(ctx, validCreateRequest(dinner.ID.String(), beet.ID.String()), author.ID.String())
	require.NoError(t, err)

	_, err = service.FavoriteRecipe(ctx, created.ID, fan.ID.String())
	require.NoError(t, err)
	_, err = service.AddToCart(ctx, created.ID, fan.ID.String())
	require.NoError(t, err)

	require.NoError(t, service.DeleteRecipe(ctx, created.ID, author.ID.String(), domain.RoleUser))

	for _, model := range []any{
		&entities.Recipe{}, &entities.RecipeIngredient{}, &entities.Favorite{}, &entities.ShoppingCart{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count, "%T rows should be gone", model)
	}

	_, err = service.GetRecipeDetail(ctx, created.ID, "")
	assert.ErrorIs(t, err, domain.ErrRecipeNotFound)
}

func TestRecipeImageLifecycle(t *testing.T) {
	service, db, s3 := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	beet := createTestIngredient(t, db, "beet", "pcs")

	created, err := service.CreateRecipe(ctx, validCreateRequest(dinner.ID.String(), beet.ID.String()), author.ID.String())
	require.NoError(t, err)

	update := domain.UpdateRecipeRequest{
		Name:        created.Name,
		Text:        created.Text,
		CookingTime: created.CookingTime,
		Tags:        []string{dinner.ID.String()},
		Ingredients: []domain.RecipeIngredientRequest{{ID: beet.ID.String(), Amount: 1}},
	}

	// update without a new image keeps the stored object
	kept, err := service.UpdateRecipe(ctx, created.ID, update, author.ID.String(), domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, created.Image, kept.Image)
	assert.Empty(t, s3.deleted)

	// uploading a replacement removes the object it supersedes
	update.Image = "bmV3IGltYWdl"
	updated, err := service.UpdateRecipe(ctx, created.ID, update, author.ID.String(), domain.RoleUser)
	require.NoError(t, err)
	assert.NotEqual(t, created.Image, updated.Image)
	require.Len(t, s3.deleted, 1)
	assert.Contains(t, created.Image, s3.deleted[0])

	// deleting the recipe removes its current object
	require.NoError(t, service.DeleteRecipe(ctx, created.ID, author.ID.String(), domain.RoleUser))
	require.Len(t, s3.deleted, 2)
	assert.Contains(t, updated.Image, s3.deleted[1])
}

func TestGetRecipesFiltersAndFlags(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	other := createTestUser(t, db, "other")
	fan := createTestUser(t, db, "fan")
	dinner := createTestTag(t, db, "dinner", "#49B64E", "dinner")
	breakfast := createTestTag(t, db, "breakfast", "#E26C2D", "breakfast")
	beet := createTestIngredient(t, db, "beet", "pcs")

	reqA := validCreateRequest(dinner.ID.String(), beet.ID.String())
	reqA.Name = "Dinner dish"
	recipeA, err := service.CreateRecipe(ctx, reqA, author.ID.String())
	require.NoError(t, err)

	reqB := validCreateRequest(breakfast.ID.String(), beet.ID.String())
	reqB.Name = "Breakfast dish"
	_, err = service.CreateRecipe(ctx, reqB, other.ID.String())
	require.NoError(t, err)

	// tag filter, OR semantics over the selected slugs
	recipes, count, err := service.GetRecipes(ctx, domain.RecipeFilter{TagSlugs: []string{"dinner"}}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Dinner dish", recipes[0].Name)

	recipes, count, err = service.GetRecipes(ctx, domain.RecipeFilter{TagSlugs: []string{"dinner", "breakfast"}}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Len(t, recipes, 2)

	// author filter
	recipes, _, err = service.GetRecipes(ctx, domain.RecipeFilter{AuthorID: author.ID.String()}, 1, 20)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, recipeA.ID, recipes[0].ID)

	// anonymous viewers always see false flags, and flag filters are no-ops
	_, err = service.FavoriteRecipe(ctx, recipeA.ID, fan.ID.String())
	require.NoError(t, err)

	recipes, count, err = service.GetRecipes(ctx, domain.RecipeFilter{OnlyFavorited: true}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	for _, r := range recipes {
		assert.False(t, r.IsFavorited)
		assert.False(t, r.IsInShoppingCart)
	}

	// authenticated viewer gets real flags and a working favorited filter
	recipes, count, err = service.GetRecipes(ctx, domain.RecipeFilter{
		OnlyFavorited: true,
		ViewerID:      fan.ID.String(),
	}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	require.Len(t, recipes, 1)
	assert.Equal(t, recipeA.ID, recipes[0].ID)
	assert.True(t, recipes[0].IsFavorited)
}
