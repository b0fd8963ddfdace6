package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"islandpay/internal/config"
	"islandpay/internal/infrastructure/lock"
	"islandpay/internal/model"
	"islandpay/internal/notify"
	"islandpay/internal/repository"
	"islandpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	// ErrWithdrawLimit 提现金额超过可提现余额
	ErrWithdrawLimit = errors.New("提现金额超过可提现余额")
	// ErrWithdrawDayLimit 提现金额超过单日上限
	ErrWithdrawDayLimit = errors.New("提现金额超过单日上限")
	// ErrDuplicateRequest 同一用户的提现请求仍在处理中
	ErrDuplicateRequest = errors.New("提现请求处理中，请勿重复提交")
)

type WithdrawService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	balanceService *BalanceService
	balanceRepo    *repository.BalanceRepository
	paymentRepo    *repository.PaymentRepository
	notifier       *notify.Notifier
}

func NewWithdrawService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, notifier *notify.Notifier) *WithdrawService {
	return &WithdrawService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		balanceService: NewBalanceService(db, cfg),
		balanceRepo:    repository.NewBalanceRepository(db),
		paymentRepo:    repository.NewPaymentRepository(db),
		notifier:       notifier,
	}
}

// CreateWithdraw 提现
//
// 【关键点】这是余额变更与流水创建唯一同步耦合的地方：
// 提现没有独立的结算阶段，余额扣减和 WITHDRAW 流水必须同一事务落库，
// 要么都提交要么都不提交
//
// 校验全部在事务内、锁定钱包行之后进行：
// 1. 钱包存在且未冻结
// 2. 金额不超过可提现余额（balance_eligible_in_cents）
// 3. 当日（本地零点起）提现累计 + 本次金额不超过单日上限
//
// 【关键点】单日限额校验不能放在事务外：
// 并发的两笔提现会同时读到旧的当日累计，双双通过校验。
// 事务内先锁钱包行，后到的事务在行锁上排队，拿到锁后再读累计，
// 看到的已包含前一笔提交的流水 —— 限额不依赖 Redis 锁也成立
func (s *WithdrawService) CreateWithdraw(ctx context.Context, userID string, amountInCents int64) (*model.Balance, error) {
	if amountInCents <= 0 {
		return nil, errors.New("提现金额必须大于0")
	}

	// Redis 锁只做前置快速失败，不承担正确性（测试环境可不接 Redis）
	if s.redisClient != nil {
		requestID := idgen.GenerateWithdrawNo()
		withdrawLock := lock.NewWithdrawLock(s.redisClient, userID, requestID)
		if err := withdrawLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			if errors.Is(err, lock.ErrLockFailed) {
				return nil, ErrDuplicateRequest
			}
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer withdrawLock.Unlock(ctx)
	}

	// 本地零点为界的当日提现累计
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	withdrawNo := idgen.GenerateWithdrawNo()

	var updated *model.Balance

	err := s.db.Transaction(func(tx *gorm.DB) error {
		balance, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance.Frozen {
			return repository.ErrBalanceFrozen
		}

		if amountInCents > balance.BalanceEligibleInCents {
			return ErrWithdrawLimit
		}

		withdrawnToday, err := s.paymentRepo.SumWithdrawSince(ctx, tx, userID, midnight)
		if err != nil {
			return fmt.Errorf("统计当日提现失败: %w", err)
		}

		if withdrawnToday+amountInCents > balance.WithdrawDayLimitInCents {
			return ErrWithdrawDayLimit
		}

		// 余额与可提现余额同减；与结算路径竞争时由版本号重试保护
		updated, err = s.balanceService.ApplyDelta(ctx, tx, userID, -amountInCents, -amountInCents, 0)
		if err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrWithdrawLimit
			}
			return err
		}

		// 提现流水直接落 CLOSED：出账没有成熟期
		payment := &model.Payment{
			PaymentNo:       idgen.GeneratePaymentNo(),
			UserID:          userID,
			AmountInCents:   amountInCents,
			Type:            model.PaymentTypeWithdraw,
			State:           model.PaymentStateClosed,
			ValidAfter:      now.UnixMilli(),
			WithdrawPercent: balance.WithdrawPercent,
			OrderID:         withdrawNo,
		}
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("记录提现流水失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("提现成功: withdrawNo=%s, userID=%s, amount=%d", withdrawNo, userID, amountInCents)

	if s.notifier != nil {
		s.notifier.Publish(notify.EventNewBalance, userID, map[string]interface{}{
			"user_id":                   userID,
			"balance_in_cents":          updated.BalanceInCents,
			"balance_eligible_in_cents": updated.BalanceEligibleInCents,
			"withdraw_no":               withdrawNo,
		})
	}

	return updated, nil
}
