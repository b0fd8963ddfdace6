package repository

import (
	"context"
	"errors"

	"islandpay/internal/model"

	"gorm.io/gorm"
)

// PropertyRepository 商品侧记录的写入口
// 每条记录指向恰好一笔流水，与流水创建同一事务落库
type PropertyRepository struct {
	db *gorm.DB
}

func NewPropertyRepository(db *gorm.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) CreateMembership(ctx context.Context, tx *gorm.DB, m *model.SubscribeMembership) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(m).Error
}

func (r *PropertyRepository) CreateSponsor(ctx context.Context, tx *gorm.DB, s *model.SponsorHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(s).Error
}

func (r *PropertyRepository) CreateFeedCharge(ctx context.Context, tx *gorm.DB, f *model.FeedCharge) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(f).Error
}

// HasFeedCharge 判断用户是否已解锁某条动态
func (r *PropertyRepository) HasFeedCharge(ctx context.Context, userID, feedID string) (bool, error) {
	var charge model.FeedCharge
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND feed_id = ?", userID, feedID).
		First(&charge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
