package service

import (
	"context"
	"errors"
	"fmt"

	"islandpay/internal/config"
	"islandpay/internal/model"
	"islandpay/internal/repository"

	"gorm.io/gorm"
)

var (
	// ErrRetryExhausted 乐观锁重试次数用尽
	// 与普通冲突区分开：单次冲突内部消化，用尽才向上抛
	ErrRetryExhausted = errors.New("余额更新冲突重试次数用尽")
	// ErrInvariantBroken 变更会破坏余额不变式
	ErrInvariantBroken = errors.New("余额变更违反不变式")
)

type BalanceService struct {
	balanceRepo *repository.BalanceRepository
	db          *gorm.DB
	cfg         *config.Config
}

func NewBalanceService(db *gorm.DB, cfg *config.Config) *BalanceService {
	return &BalanceService{
		balanceRepo: repository.NewBalanceRepository(db),
		db:          db,
		cfg:         cfg,
	}
}

// GetOrCreate 获取钱包，不存在则按配置默认值懒创建
func (s *BalanceService) GetOrCreate(ctx context.Context, userID string) (*model.Balance, error) {
	return s.balanceRepo.GetOrCreate(ctx, userID,
		s.cfg.Business.DefaultWithdrawDayLimitInCents,
		s.cfg.Business.DefaultWithdrawPercent,
	)
}

// Get 只读查询，不触发创建（结算路径专用）
func (s *BalanceService) Get(ctx context.Context, userID string) (*model.Balance, error) {
	return s.balanceRepo.GetByUserID(ctx, userID)
}

// ApplyDelta 对钱包做带重试的读改写
//
// 【关键点】每轮都重读最新行再做条件更新（Where version = ?）：
// 提现路径和结算路径可能同时改同一行，输掉的一方在这里重读重试，
// 绝不会发生覆盖写；重试次数用尽返回 ErrRetryExhausted
func (s *BalanceService) ApplyDelta(ctx context.Context, tx *gorm.DB, userID string, deltaCents, deltaEligibleCents, deltaShells int64) (*model.Balance, error) {
	if tx == nil {
		tx = s.db
	}

	maxRetry := s.cfg.Business.MaxRetryCount

	for i := 0; i < maxRetry; i++ {
		var balance model.Balance
		err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repository.ErrBalanceNotFound
			}
			return nil, err
		}

		newCents := balance.BalanceInCents + deltaCents
		newEligible := balance.BalanceEligibleInCents + deltaEligibleCents
		newShells := balance.BalanceInShells + deltaShells

		if newCents < 0 || newEligible < 0 || newShells < 0 {
			return nil, repository.ErrBalanceNotEnough
		}
		if newEligible > newCents {
			return nil, fmt.Errorf("%w: eligible=%d > cents=%d", ErrInvariantBroken, newEligible, newCents)
		}

		err = s.balanceRepo.CompareAndApply(ctx, tx, balance.ID, balance.Version, deltaCents, deltaEligibleCents, deltaShells)
		if err == nil {
			balance.BalanceInCents = newCents
			balance.BalanceEligibleInCents = newEligible
			balance.BalanceInShells = newShells
			balance.Version++
			return &balance, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
		// 版本冲突，重读后再来一轮
	}

	return nil, ErrRetryExhausted
}

// Freeze 冻结/解冻钱包（运营入口）
func (s *BalanceService) Freeze(ctx context.Context, userID string, frozen bool) error {
	return s.balanceRepo.SetFrozen(ctx, userID, frozen)
}
