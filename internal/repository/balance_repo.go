package repository

import (
	"context"
	"errors"

	"islandpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound  = errors.New("钱包不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrBalanceFrozen    = errors.New("钱包已冻结")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, userID string) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate 懒创建钱包
//
// 【关键点】并发下两个请求同时为同一用户建钱包时，
// 靠 user_id 唯一索引 + OnConflict DoNothing 保证只落一行
func (r *BalanceRepository) GetOrCreate(ctx context.Context, userID string, dayLimitInCents, withdrawPercent int64) (*model.Balance, error) {
	balance, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return balance, nil
	}

	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	newBalance := &model.Balance{
		UserID:                  userID,
		WithdrawDayLimitInCents: dayLimitInCents,
		WithdrawPercent:         withdrawPercent,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// GetByUserIDForUpdate 事务内锁定读钱包行
// 提现路径用它把同一用户的并发提现在行锁上串行化，
// 后到的事务拿到锁后再读当日累计，看到的是前一笔已提交的流水。
// sqlite 单写者天然串行，FOR UPDATE 只在 MySQL 上需要
func (r *BalanceRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Balance, error) {
	if tx == nil {
		tx = r.db
	}

	query := tx.WithContext(ctx)
	if tx.Dialector.Name() == "mysql" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance model.Balance
	err := query.Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// CompareAndApply 以版本号为条件的读改写
//
// 【关键点】Where 带上 version，RowsAffected == 0 即版本已被他人推进，
// 调用方（BalanceService）负责重读重试；这里绝不静默覆盖
func (r *BalanceRepository) CompareAndApply(ctx context.Context, tx *gorm.DB, balanceID int64, version int, deltaCents, deltaEligibleCents, deltaShells int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("id = ? AND version = ?", balanceID, version).
		Updates(map[string]interface{}{
			"balance_in_cents":          gorm.Expr("balance_in_cents + ?", deltaCents),
			"balance_eligible_in_cents": gorm.Expr("balance_eligible_in_cents + ?", deltaEligibleCents),
			"balance_in_shells":         gorm.Expr("balance_in_shells + ?", deltaShells),
			"version":                   gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

// UpdateWithdrawPercent 调整分成比例（不影响已快照的流水）
func (r *BalanceRepository) UpdateWithdrawPercent(ctx context.Context, userID string, percent int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"withdraw_percent": percent,
			"version":          gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// SetFrozen 冻结/解冻钱包
func (r *BalanceRepository) SetFrozen(ctx context.Context, userID string, frozen bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"frozen":  frozen,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}
