package subscription

import (
	"context"
	"time"

	"foodgram-backend/entities"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type (
	SubscriptionRepository interface {
		CreateSubscription(ctx context.Context, userID, authorID uuid.UUID) error
		DeleteSubscription(ctx context.Context, userID, authorID uuid.UUID) (int64, error)
		GetSubscriptions(ctx context.Context, userID uuid.UUID, page, limit int) ([]*entities.Subscription, int64, error)
	}

	subscriptionRepository struct {
		db *gorm.DB
	}
)

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// CreateSubscription inserts the follow edge. Concurrent duplicate attempts
// race on the (user_id, author_id) unique index; the loser sees
// gorm.ErrDuplicatedKey.
func (r *subscriptionRepository) CreateSubscription(ctx context.Context, userID, authorID uuid.UUID) error {
	return r.db.WithContext(ctx).Create(&entities.Subscription{
		UserID:    userID,
		AuthorID:  authorID,
		CreatedAt: time.Now(),
	}).Error
}

func (r *subscriptionRepository) DeleteSubscription(ctx context.Context, userID, authorID uuid.UUID) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("user_id = ? AND author_id = ?", userID, authorID).
		Delete(&entities.Subscription{})
	return tx.RowsAffected, tx.Error
}

func (r *subscriptionRepository) GetSubscriptions(ctx context.Context, userID uuid.UUID, page, limit int) ([]*entities.Subscription, int64, error) {
	var subscriptions []*entities.Subscription
	var count int64
	offset := (page - 1) * limit

	if err := r.db.WithContext(ctx).
		Model(&entities.Subscription{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return nil, 0, err
	}

	if err := r.db.WithContext(ctx).
		Preload("Author").
		Where("user_id = ?", userID).
		Offset(offset).
		Limit(limit).
		Order("created_at desc").
		Find(&subscriptions).Error; err != nil {
		return nil, 0, err
	}

	return subscriptions, count, nil
}
