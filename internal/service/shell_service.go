package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"islandpay/internal/config"
	"islandpay/internal/model"
	"islandpay/internal/notify"
	"islandpay/internal/repository"
	"islandpay/pkg/idgen"

	"gorm.io/gorm"
)

var (
	// ErrShellNotEnough 贝壳余额不足
	ErrShellNotEnough = errors.New("贝壳余额不足")
	// ErrAlreadyUnlocked 动态已解锁
	ErrAlreadyUnlocked = errors.New("动态已解锁，请勿重复购买")
)

// ShellService 站内贝壳消费：会员订阅、赞助、动态解锁
// 买家贝壳即时扣减，创作者侧派生带成熟期的流水，由结算任务延后入账
type ShellService struct {
	db             *gorm.DB
	cfg            *config.Config
	balanceService *BalanceService
	balanceRepo    *repository.BalanceRepository
	paymentRepo    *repository.PaymentRepository
	propertyRepo   *repository.PropertyRepository
	notifier       *notify.Notifier
}

func NewShellService(db *gorm.DB, cfg *config.Config, notifier *notify.Notifier) *ShellService {
	return &ShellService{
		db:             db,
		cfg:            cfg,
		balanceService: NewBalanceService(db, cfg),
		balanceRepo:    repository.NewBalanceRepository(db),
		paymentRepo:    repository.NewPaymentRepository(db),
		propertyRepo:   repository.NewPropertyRepository(db),
		notifier:       notifier,
	}
}

// SubscribeMembership 贝壳订阅岛屿会员
// payeeID（岛主）由外围控制层从社交关系服务解析后传入
func (s *ShellService) SubscribeMembership(ctx context.Context, userID, islandID, payeeID, membershipID string, shellPrice int64, durationDays int) (*model.Payment, error) {
	payment, err := s.spendShells(ctx, userID, payeeID, shellPrice, func(tx *gorm.DB, payment *model.Payment) error {
		record := &model.SubscribeMembership{
			UserID:       userID,
			IslandID:     islandID,
			MembershipID: membershipID,
			PaymentID:    payment.ID,
			ExpiredAt:    time.Now().AddDate(0, 0, durationDays),
		}
		return s.propertyRepo.CreateMembership(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Publish(notify.EventNewMember, islandID, map[string]interface{}{
			"user_id":       userID,
			"island_id":     islandID,
			"membership_id": membershipID,
			"payment_no":    payment.PaymentNo,
		})
	}

	return payment, nil
}

// Sponsor 贝壳赞助岛主
func (s *ShellService) Sponsor(ctx context.Context, userID, islandID, payeeID string, giftShells int64) (*model.Payment, error) {
	return s.spendShells(ctx, userID, payeeID, giftShells, func(tx *gorm.DB, payment *model.Payment) error {
		record := &model.SponsorHistory{
			UserID:    userID,
			IslandID:  islandID,
			GiftCount: giftShells,
			PaymentID: payment.ID,
		}
		return s.propertyRepo.CreateSponsor(ctx, tx, record)
	})
}

// UnlockFeed 贝壳解锁付费动态
func (s *ShellService) UnlockFeed(ctx context.Context, userID, feedID, authorID string, shellPrice int64) (*model.Payment, error) {
	unlocked, err := s.propertyRepo.HasFeedCharge(ctx, userID, feedID)
	if err != nil {
		return nil, err
	}
	if unlocked {
		return nil, ErrAlreadyUnlocked
	}

	return s.spendShells(ctx, userID, authorID, shellPrice, func(tx *gorm.DB, payment *model.Payment) error {
		record := &model.FeedCharge{
			UserID:    userID,
			FeedID:    feedID,
			PaymentID: payment.ID,
		}
		return s.propertyRepo.CreateFeedCharge(ctx, tx, record)
	})
}

// spendShells 贝壳消费的公共路径
//
// 【关键点】买家扣贝壳、流水派生、商品记录三者同一事务；
// 创作者入账不在这里发生 —— 流水带成熟期落 OPEN，等结算任务处理。
// 贝壳出账的流水统一记 SHELL_PAY（记账单位是贝壳），
// 买了什么由同事务落库的商品记录回答；现金通道的流水才按商品分型
func (s *ShellService) spendShells(ctx context.Context, userID, payeeID string, shells int64, recordProperty func(tx *gorm.DB, payment *model.Payment) error) (*model.Payment, error) {
	if shells <= 0 {
		return nil, errors.New("消费贝壳数必须大于0")
	}
	if payeeID == userID {
		return nil, errors.New("不能向自己付款")
	}

	buyer, err := s.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if buyer.BalanceInShells < shells {
		return nil, ErrShellNotEnough
	}

	// 分成比例快照收款方当前值
	withdrawPercent := s.cfg.Business.DefaultWithdrawPercent
	if payeeBalance, err := s.balanceRepo.GetByUserID(ctx, payeeID); err == nil {
		withdrawPercent = payeeBalance.WithdrawPercent
	}

	purchaseNo := idgen.GenerateOrderNo()
	validAfter := time.Now().AddDate(0, 0, s.cfg.Business.ShellPendingDays).UnixMilli()

	var payment *model.Payment
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceService.ApplyDelta(ctx, tx, userID, 0, 0, -shells); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrShellNotEnough
			}
			return err
		}

		draft := &model.Payment{
			PaymentNo:       idgen.GeneratePaymentNo(),
			UserID:          userID,
			PayeeID:         payeeID,
			AmountInShells:  shells,
			Type:            model.PaymentTypeShellPay,
			State:           model.PaymentStateDrafted,
			ValidAfter:      validAfter,
			WithdrawPercent: withdrawPercent,
			OrderID:         purchaseNo,
		}
		var err error
		payment, err = s.paymentRepo.CreateFromOrder(ctx, tx, draft)
		if err != nil {
			return fmt.Errorf("派生消费流水失败: %w", err)
		}

		if err := s.paymentRepo.UpdateState(ctx, tx, payment.ID, model.PaymentStateDrafted, model.PaymentStateOpen); err != nil {
			return err
		}
		payment.State = model.PaymentStateOpen

		return recordProperty(tx, payment)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("贝壳消费成功: userID=%s, payeeID=%s, paymentNo=%s, shells=%d", userID, payeeID, payment.PaymentNo, shells)

	if s.notifier != nil {
		s.notifier.Publish(notify.EventNewPayment, userID, map[string]interface{}{
			"payment_no": payment.PaymentNo,
			"user_id":    userID,
			"payee_id":   payeeID,
			"type":       payment.Type,
			"shells":     shells,
		})
	}

	return payment, nil
}
