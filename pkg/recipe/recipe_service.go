package recipe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"foodgram-backend/domain"
	"foodgram-backend/entities"
	"foodgram-backend/internal/utils/storage"
	"foodgram-backend/pkg/ingredient"
	"foodgram-backend/pkg/tag"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type (
	RecipeService interface {
		GetRecipes(ctx context.Context, filter domain.RecipeFilter, page, limit int) ([]domain.RecipeResponse, int64, error)
		GetRecipeDetail(ctx context.Context, recipeID string, viewerID string) (domain.RecipeResponse, error)
		CreateRecipe(ctx context.Context, req domain.CreateRecipeRequest, userID string) (domain.RecipeResponse, error)
		UpdateRecipe(ctx context.Context, recipeID string, req domain.UpdateRecipeRequest, userID, role string) (domain.RecipeResponse, error)
		DeleteRecipe(ctx context.Context, recipeID string, userID, role string) error
		FavoriteRecipe(ctx context.Context, recipeID, userID string) (domain.ShortRecipeResponse, error)
		UnfavoriteRecipe(ctx context.Context, recipeID, userID string) error
		AddToCart(ctx context.Context, recipeID, userID string) (domain.ShortRecipeResponse, error)
		RemoveFromCart(ctx context.Context, recipeID, userID string) error
		DownloadShoppingCart(ctx context.Context, userID string) ([]byte, error)
	}

	recipeService struct {
		recipeRepository     RecipeRepository
		tagRepository        tag.TagRepository
		ingredientRepository ingredient.IngredientRepository
		s3                   storage.AwsS3
	}
)

func NewRecipeService(
	recipeRepository RecipeRepository,
	tagRepository tag.TagRepository,
	ingredientRepository ingredient.IngredientRepository,
	s3 storage.AwsS3,
) RecipeService {
	return &recipeService{
		recipeRepository:     recipeRepository,
		tagRepository:        tagRepository,
		ingredientRepository: ingredientRepository,
		s3:                   s3,
	}
}

// validateLines enforces the write-side rules that validator tags cannot
// express across fields: no duplicate ingredient per recipe, every amount >= 1.
func validateLines(lines []domain.RecipeIngredientRequest) error {
	if len(lines) == 0 {
		return domain.ErrNoIngredients
	}

	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if line.Amount < 1 {
			return domain.ErrAmountTooSmall
		}
		if seen[line.ID] {
			return domain.ErrDuplicateIngredient
		}
		seen[line.ID] = true
	}
	return nil
}

// resolveTags loads the referenced tags and fails if any id is unknown.
func (s *recipeService) resolveTags(ctx context.Context, ids []string) ([]*entities.Tag, error) {
	if len(ids) == 0 {
		return nil, domain.ErrNoTags
	}

	tags, err := s.tagRepository.GetTagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(tags) != len(ids) {
		return nil, domain.ErrTagNotFound
	}
	return tags, nil
}

// resolveLines checks every referenced ingredient exists and builds the
// entity rows from the request lines.
func (s *recipeService) resolveLines(ctx context.Context, lines []domain.RecipeIngredientRequest) ([]*entities.RecipeIngredient, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
	}

	ingredients, err := s.ingredientRepository.GetIngredientsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(ingredients) != len(lines) {
		return nil, domain.ErrIngredientNotFound
	}

	result := make([]*entities.RecipeIngredient, 0, len(lines))
	for _, line := range lines {
		ingredientID, err := uuid.Parse(line.ID)
		if err != nil {
			return nil, domain.ErrParseUUID
		}
		result = append(result, &entities.RecipeIngredient{
			IngredientID: ingredientID,
			Amount:       line.Amount,
		})
	}
	return result, nil
}

func (s *recipeService) uploadImage(encoded string) (string, error) {
	objectKey, err := s.s3.UploadBase64(
		uuid.New().String(),
		encoded,
		"recipes",
		storage.AllowImage...,
	)
	if err != nil {
		return "", domain.ErrInvalidImage
	}
	return s.s3.GetPublicLinkKey(objectKey), nil
}

// deleteImage removes the stored object behind a public link, best-effort.
func (s *recipeService) deleteImage(imageURL string) {
	if imageURL == "" {
		return
	}
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return
	}
	if objectKey := strings.TrimPrefix(parsed.Path, "/"); objectKey != "" {
		_ = s.s3.DeleteFile(objectKey)
	}
}

func toShortResponse(recipe *entities.Recipe) domain.ShortRecipeResponse {
	return domain.ShortRecipeResponse{
		ID:          recipe.ID.String(),
		Name:        recipe.Name,
		Image:       recipe.ImageURL,
		CookingTime: recipe.CookingTime,
	}
}

func (s *recipeService) toResponse(recipe *entities.Recipe, favorited, inCart, authorSubscribed bool) domain.RecipeResponse {
	author := domain.UserResponse{}
	if recipe.Author != nil {
		author = domain.UserResponse{
			ID:           recipe.Author.ID.String(),
			Email:        recipe.Author.Email,
			Username:     recipe.Author.Username,
			FirstName:    recipe.Author.FirstName,
			LastName:     recipe.Author.LastName,
			IsSubscribed: authorSubscribed,
		}
	}

	tags := make([]domain.TagResponse, 0, len(recipe.Tags))
	for _, t := range recipe.Tags {
		tags = append(tags, domain.TagResponse{
			ID:    t.ID.String(),
			Name:  t.Name,
			Color: t.Color,
			Slug:  t.Slug,
		})
	}

	lines := make([]domain.RecipeIngredientResponse, 0, len(recipe.Ingredients))
	for _, line := range recipe.Ingredients {
		resp := domain.RecipeIngredientResponse{
			ID:     line.IngredientID.String(),
			Amount: line.Amount,
		}
		if line.Ingredient != nil {
			resp.Name = line.Ingredient.Name
			resp.MeasurementUnit = line.Ingredient.MeasurementUnit
		}
		lines = append(lines, resp)
	}

	return domain.RecipeResponse{
		ID:               recipe.ID.String(),
		Name:             recipe.Name,
		Author:           author,
		Image:            recipe.ImageURL,
		Text:             recipe.Text,
		CookingTime:      recipe.CookingTime,
		Tags:             tags,
		Ingredients:      lines,
		IsFavorited:      favorited,
		IsInShoppingCart: inCart,
	}
}

func (s *recipeService) GetRecipes(ctx context.Context, filter domain.RecipeFilter, page, limit int) ([]domain.RecipeResponse, int64, error) {
	recipes, count, err := s.recipeRepository.GetRecipes(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	favoritedSet := map[uuid.UUID]bool{}
	cartSet := map[uuid.UUID]bool{}
	subscribedSet := map[uuid.UUID]bool{}

	if filter.ViewerID != "" && len(recipes) > 0 {
		viewerUUID, err := uuid.Parse(filter.ViewerID)
		if err != nil {
			return nil, 0, domain.ErrParseUUID
		}

		recipeIDs := make([]uuid.UUID, 0, len(recipes))
		authorIDs := make([]uuid.UUID, 0, len(recipes))
		for _, r := range recipes {
			recipeIDs = append(recipeIDs, r.ID)
			authorIDs = append(authorIDs, r.AuthorID)
		}

		if favoritedSet, err = s.recipeRepository.GetFavoritedSet(ctx, viewerUUID, recipeIDs); err != nil {
			return nil, 0, err
		}
		if cartSet, err = s.recipeRepository.GetCartSet(ctx, viewerUUID, recipeIDs); err != nil {
			return nil, 0, err
		}
		if subscribedSet, err = s.recipeRepository.GetSubscribedAuthorSet(ctx, viewerUUID, authorIDs); err != nil {
			return nil, 0, err
		}
	}

	result := make([]domain.RecipeResponse, 0, len(recipes))
	for _, r := range recipes {
		result = append(result, s.toResponse(r, favoritedSet[r.ID], cartSet[r.ID], subscribedSet[r.AuthorID]))
	}
	return result, count, nil
}

func (s *recipeService) GetRecipeDetail(ctx context.Context, recipeID string, viewerID string) (domain.RecipeResponse, error) {
	id, err := uuid.Parse(recipeID)
	if err != nil {
		return domain.RecipeResponse{}, domain.ErrRecipeNotFound
	}

	recipe, err := s.recipeRepository.GetRecipeByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.RecipeResponse{}, err
	}

	favorited, inCart, subscribed := false, false, false
	if viewerID != "" {
		viewerUUID, err := uuid.Parse(viewerID)
		if err != nil {
			return domain.RecipeResponse{}, domain.ErrParseUUID
		}

		favoritedSet, err := s.recipeRepository.GetFavoritedSet(ctx, viewerUUID, []uuid.UUID{recipe.ID})
		if err != nil {
			return domain.RecipeResponse{}, err
		}
		cartSet, err := s.recipeRepository.GetCartSet(ctx, viewerUUID, []uuid.UUID{recipe.ID})
		if err != nil {
			return domain.RecipeResponse{}, err
		}
		subscribedSet, err := s.recipeRepository.GetSubscribedAuthorSet(ctx, viewerUUID, []uuid.UUID{recipe.AuthorID})
		if err != nil {
			return domain.RecipeResponse{}, err
		}
		favorited = favoritedSet[recipe.ID]
		inCart = cartSet[recipe.ID]
		subscribed = subscribedSet[recipe.AuthorID]
	}

	return s.toResponse(recipe, favorited, inCart, subscribed), nil
}

func (s *recipeService) CreateRecipe(ctx context.Context, req domain.CreateRecipeRequest, userID string) (domain.RecipeResponse, error) {
	if req.CookingTime < 1 {
		return domain.RecipeResponse{}, domain.ErrCookingTimeTooShort
	}
	if err := validateLines(req.Ingredients); err != nil {
		return domain.RecipeResponse{}, err
	}

	tags, err := s.resolveTags(ctx, req.Tags)
	if err != nil {
		return domain.RecipeResponse{}, err
	}
	lines, err := s.resolveLines(ctx, req.Ingredients)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	authorID, err := uuid.Parse(userID)
	if err != nil {
		return domain.RecipeResponse{}, domain.ErrParseUUID
	}

	imageURL, err := s.uploadImage(req.Image)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	recipe := &entities.Recipe{
		AuthorID:    authorID,
		Name:        req.Name,
		ImageURL:    imageURL,
		Text:        req.Text,
		CookingTime: req.CookingTime,
	}

	if err := s.recipeRepository.CreateRecipe(ctx, recipe, lines, tags); err != nil {
		return domain.RecipeResponse{}, err
	}

	return s.GetRecipeDetail(ctx, recipe.ID.String(), userID)
}

func (s *recipeService) UpdateRecipe(ctx context.Context, recipeID string, req domain.UpdateRecipeRequest, userID, role string) (domain.RecipeResponse, error) {
	id, err := uuid.Parse(recipeID)
	if err != nil {
		return domain.RecipeResponse{}, domain.ErrRecipeNotFound
	}

	recipe, err := s.recipeRepository.GetRecipeByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.RecipeResponse{}, err
	}

	if recipe.AuthorID.String() != userID && role != domain.RoleAdmin {
		return domain.RecipeResponse{}, domain.ErrNotRecipeAuthor
	}

	if req.CookingTime < 1 {
		return domain.RecipeResponse{}, domain.ErrCookingTimeTooShort
	}
	if err := validateLines(req.Ingredients); err != nil {
		return domain.RecipeResponse{}, err
	}

	tags, err := s.resolveTags(ctx, req.Tags)
	if err != nil {
		return domain.RecipeResponse{}, err
	}
	lines, err := s.resolveLines(ctx, req.Ingredients)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	imageURL := recipe.ImageURL
	if req.Image != "" {
		if imageURL, err = s.uploadImage(req.Image); err != nil {
			return domain.RecipeResponse{}, err
		}
	}

	updated := &entities.Recipe{
		ID:          recipe.ID,
		AuthorID:    recipe.AuthorID,
		Name:        req.Name,
		ImageURL:    imageURL,
		Text:        req.Text,
		CookingTime: req.CookingTime,
	}

	if err := s.recipeRepository.UpdateRecipe(ctx, updated, lines, tags); err != nil {
		return domain.RecipeResponse{}, err
	}

	// the replaced object is unreachable now
	if req.Image != "" && recipe.ImageURL != imageURL {
		s.deleteImage(recipe.ImageURL)
	}

	return s.GetRecipeDetail(ctx, recipe.ID.String(), userID)
}

func (s *recipeService) DeleteRecipe(ctx context.Context, recipeID string, userID, role string) error {
	id, err := uuid.Parse(recipeID)
	if err != nil {
		return domain.ErrRecipeNotFound
	}

	recipe, err := s.recipeRepository.GetRecipeByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrRecipeNotFound
		}
		return err
	}

	if recipe.AuthorID.String() != userID && role != domain.RoleAdmin {
		return domain.ErrNotRecipeAuthor
	}

	if err := s.recipeRepository.DeleteRecipe(ctx, id); err != nil {
		return err
	}

	s.deleteImage(recipe.ImageURL)
	return nil
}

func (s *recipeService) getRecipeAndViewer(ctx context.Context, recipeID, userID string) (*entities.Recipe, uuid.UUID, error) {
	id, err := uuid.Parse(recipeID)
	if err != nil {
		return nil, uuid.Nil, domain.ErrRecipeNotFound
	}

	viewerUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, uuid.Nil, domain.ErrParseUUID
	}

	recipe, err := s.recipeRepository.GetRecipeByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, domain.ErrRecipeNotFound
		}
		return nil, uuid.Nil, err
	}
	return recipe, viewerUUID, nil
}

func (s *recipeService) FavoriteRecipe(ctx context.Context, recipeID, userID string) (domain.ShortRecipeResponse, error) {
	recipe, viewerUUID, err := s.getRecipeAndViewer(ctx, recipeID, userID)
	if err != nil {
		return domain.ShortRecipeResponse{}, err
	}

	if err := s.recipeRepository.CreateFavorite(ctx, viewerUUID, recipe.ID); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ShortRecipeResponse{}, domain.ErrAlreadyFavorited
		}
		return domain.ShortRecipeResponse{}, err
	}

	return toShortResponse(recipe), nil
}

func (s *recipeService) UnfavoriteRecipe(ctx context.Context, recipeID, userID string) error {
	recipe, viewerUUID, err := s.getRecipeAndViewer(ctx, recipeID, userID)
	if err != nil {
		return err
	}

	affected, err := s.recipeRepository.DeleteFavorite(ctx, viewerUUID, recipe.ID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFavorited
	}
	return nil
}

func (s *recipeService) AddToCart(ctx context.Context, recipeID, userID string) (domain.ShortRecipeResponse, error) {
	recipe, viewerUUID, err := s.getRecipeAndViewer(ctx, recipeID, userID)
	if err != nil {
		return domain.ShortRecipeResponse{}, err
	}

	if err := s.recipeRepository.CreateCartItem(ctx, viewerUUID, recipe.ID); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ShortRecipeResponse{}, domain.ErrAlreadyInCart
		}
		return domain.ShortRecipeResponse{}, err
	}

	return toShortResponse(recipe), nil
}

func (s *recipeService) RemoveFromCart(ctx context.Context, recipeID, userID string) error {
	recipe, viewerUUID, err := s.getRecipeAndViewer(ctx, recipeID, userID)
	if err != nil {
		return err
	}

	affected, err := s.recipeRepository.DeleteCartItem(ctx, viewerUUID, recipe.ID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotInCart
	}
	return nil
}

// DownloadShoppingCart renders the aggregated shopping list as a plain-text
// document, one "* <name>, <unit>: <amount>" line per ingredient.
func (s *recipeService) DownloadShoppingCart(ctx context.Context, userID string) ([]byte, error) {
	viewerUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, domain.ErrParseUUID
	}

	items, err := s.recipeRepository.AggregateShoppingCart(ctx, viewerUUID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "* %s, %s: %d\n", item.Name, item.MeasurementUnit, item.Amount)
	}
	return []byte(b.String()), nil
}
