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

// OrderService 三条支付通道的订单状态机与流水派生
type OrderService struct {
	db             *gorm.DB
	cfg            *config.Config
	orderRepo      *repository.OrderRepository
	paymentRepo    *repository.PaymentRepository
	balanceRepo    *repository.BalanceRepository
	balanceService *BalanceService
	notifier       *notify.Notifier
}

func NewOrderService(db *gorm.DB, cfg *config.Config, notifier *notify.Notifier) *OrderService {
	return &OrderService{
		db:             db,
		cfg:            cfg,
		orderRepo:      repository.NewOrderRepository(db),
		paymentRepo:    repository.NewPaymentRepository(db),
		balanceRepo:    repository.NewBalanceRepository(db),
		balanceService: NewBalanceService(db, cfg),
		notifier:       notifier,
	}
}

type CreateOrderRequest struct {
	UserID       string
	PayeeID      string
	FeeInCents   int64
	ShellCount   int64
	PropertyType string
	PropertyID   string
}

func (s *OrderService) validateCreate(req *CreateOrderRequest) error {
	if req.FeeInCents <= 0 {
		return errors.New("订单金额必须大于0")
	}
	if req.PropertyType != model.PropertyTypeShell && req.PayeeID == "" {
		return errors.New("内容购买订单必须携带收款创作者")
	}
	return nil
}

// CreateWechatOrder 创建微信订单（NOTPAY），prepay_id 由网关适配层回填
func (s *OrderService) CreateWechatOrder(ctx context.Context, req *CreateOrderRequest) (*model.WechatOrder, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	order := &model.WechatOrder{
		GatewayOrder: s.newGatewayOrder(req),
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateAlipayOrder 创建支付宝订单
func (s *OrderService) CreateAlipayOrder(ctx context.Context, req *CreateOrderRequest) (*model.AlipayOrder, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	order := &model.AlipayOrder{
		GatewayOrder: s.newGatewayOrder(req),
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

// SubmitIosReceipt 提交苹果内购票据，创建待校验订单
func (s *OrderService) SubmitIosReceipt(ctx context.Context, req *CreateOrderRequest, receipt, transactionID string) (*model.IosOrder, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	gw := s.newGatewayOrder(req)
	gw.State = model.OrderStateUserPaying
	order := &model.IosOrder{
		GatewayOrder:  gw,
		Receipt:       receipt,
		TransactionID: transactionID,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) newGatewayOrder(req *CreateOrderRequest) model.GatewayOrder {
	return model.GatewayOrder{
		OrderNo:      idgen.GenerateOrderNo(),
		UserID:       req.UserID,
		PayeeID:      req.PayeeID,
		TradeNumber:  idgen.GenerateTradeNumber(),
		FeeInCents:   req.FeeInCents,
		ShellCount:   req.ShellCount,
		PropertyType: req.PropertyType,
		PropertyID:   req.PropertyID,
		State:        model.OrderStateNotPay,
	}
}

// HandleGatewayCallback 处理网关回调/轮询结果
//
// 【关键点】回调是不可信的投递：会重复、会乱序。
// 1. 订单已处于同级或更晚终态 -> 空操作返回，不报错
// 2. SUCCESS 是唯一触发流水派生的状态，派生靠 order_id 唯一索引幂等
// 3. 无法解析的网关状态落 UNKNOWN，等人工介入，不自动重试
func (s *OrderService) HandleGatewayCallback(ctx context.Context, rail, tradeNumber, reportedState string) (*model.GatewayOrder, error) {
	order, err := s.orderRepo.GetByTradeNumber(ctx, rail, tradeNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, repository.ErrOrderNotFound
	}

	if order.State == reportedState {
		return order, nil
	}
	if model.IsLaterTerminal(order.State, reportedState) {
		log.Printf("[OrderService] 重复/乱序回调忽略: rail=%s, tradeNumber=%s, 当前=%s, 上报=%s",
			rail, tradeNumber, order.State, reportedState)
		return order, nil
	}

	switch reportedState {
	case model.OrderStateSuccess:
		return s.handleSuccess(ctx, rail, order)
	case model.OrderStateRefunding, model.OrderStateRefunded, model.OrderStateRevoked:
		return s.handleReversal(ctx, rail, order, reportedState)
	case model.OrderStateUserPaying, model.OrderStatePayError, model.OrderStateClosed, model.OrderStateUnknown:
		if err := s.orderRepo.TransitionState(ctx, nil, rail, order.OrderNo, order.State, reportedState); err != nil {
			return nil, err
		}
		order.State = reportedState
		return order, nil
	default:
		// 完全无法解析的状态一律落 UNKNOWN
		if err := s.orderRepo.TransitionState(ctx, nil, rail, order.OrderNo, order.State, model.OrderStateUnknown); err != nil {
			return nil, err
		}
		order.State = model.OrderStateUnknown
		return order, nil
	}
}

// handleSuccess 订单支付成功：状态落库 + 流水派生 + 贝壳到账，同一事务
func (s *OrderService) handleSuccess(ctx context.Context, rail string, order *model.GatewayOrder) (*model.GatewayOrder, error) {
	// 流水分成比例在派生时快照收款方当前比例
	withdrawPercent := s.cfg.Business.DefaultWithdrawPercent
	if order.PayeeID != "" {
		if payeeBalance, err := s.balanceRepo.GetByUserID(ctx, order.PayeeID); err == nil {
			withdrawPercent = payeeBalance.WithdrawPercent
		}
	}

	// 买贝壳的订单要给买家入账，钱包可能还不存在，事务外先懒创建
	if order.PropertyType == model.PropertyTypeShell {
		if _, err := s.balanceService.GetOrCreate(ctx, order.UserID); err != nil {
			return nil, fmt.Errorf("创建买家钱包失败: %w", err)
		}
	}

	var payment *model.Payment

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.TransitionState(ctx, tx, rail, order.OrderNo, order.State, model.OrderStateSuccess); err != nil {
			return err
		}

		var err error
		payment, err = s.recordPaymentFromOrder(ctx, tx, rail, order, withdrawPercent)
		if err != nil {
			return err
		}

		// 贝壳购买：买家贝壳余额同事务到账
		if order.PropertyType == model.PropertyTypeShell {
			if _, err := s.balanceService.ApplyDelta(ctx, tx, order.UserID, 0, 0, order.ShellCount); err != nil {
				return fmt.Errorf("贝壳到账失败: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	order.State = model.OrderStateSuccess
	log.Printf("[OrderService] 支付成功: rail=%s, orderNo=%s, userID=%s, fee=%d",
		rail, order.OrderNo, order.UserID, order.FeeInCents)

	if s.notifier != nil {
		s.notifier.Publish(notify.EventNewPayment, order.UserID, map[string]interface{}{
			"payment_no": payment.PaymentNo,
			"order_no":   order.OrderNo,
			"user_id":    order.UserID,
			"payee_id":   order.PayeeID,
			"type":       payment.Type,
			"amount":     payment.AmountInCents,
		})
	}

	return order, nil
}

// recordPaymentFromOrder 从成功订单派生流水（幂等）
//
// 【关键点】派生必须恰好一次：order_id 唯一索引保证重复回调拿回同一行。
// 微信/支付宝订单回调即确认，流水先 DRAFTED 再同事务翻 OPEN；
// 苹果订单落 PENDING，等票据服务端复核通过后再翻 OPEN
func (s *OrderService) recordPaymentFromOrder(ctx context.Context, tx *gorm.DB, rail string, order *model.GatewayOrder, withdrawPercent int64) (*model.Payment, error) {
	now := time.Now()

	draft := &model.Payment{
		PaymentNo:       idgen.GeneratePaymentNo(),
		UserID:          order.UserID,
		PayeeID:         order.PayeeID,
		AmountInCents:   order.FeeInCents,
		Type:            paymentTypeForProperty(order.PropertyType),
		State:           model.PaymentStateDrafted,
		ValidAfter:      now.AddDate(0, 0, s.pendingDays(rail)).UnixMilli(),
		WithdrawPercent: withdrawPercent,
		OrderID:         order.OrderNo,
	}
	if rail == repository.RailIos {
		draft.State = model.PaymentStatePending
	}

	payment, err := s.paymentRepo.CreateFromOrder(ctx, tx, draft)
	if err != nil {
		return nil, fmt.Errorf("派生支付流水失败: %w", err)
	}

	// 已存在（重复回调）则直接返回，不重复翻状态
	if payment.PaymentNo != draft.PaymentNo {
		return payment, nil
	}

	if payment.State == model.PaymentStateDrafted {
		if err := s.paymentRepo.UpdateState(ctx, tx, payment.ID, model.PaymentStateDrafted, model.PaymentStateOpen); err != nil {
			return nil, err
		}
		payment.State = model.PaymentStateOpen
	}

	return payment, nil
}

// RecordPaymentFromOrder 给外围 CRUD 层用的幂等流水派生入口
func (s *OrderService) RecordPaymentFromOrder(ctx context.Context, rail string, order *model.GatewayOrder) (*model.Payment, error) {
	if order.State != model.OrderStateSuccess {
		return nil, repository.ErrOrderStateInvalid
	}

	withdrawPercent := s.cfg.Business.DefaultWithdrawPercent
	if order.PayeeID != "" {
		if payeeBalance, err := s.balanceRepo.GetByUserID(ctx, order.PayeeID); err == nil {
			withdrawPercent = payeeBalance.WithdrawPercent
		}
	}

	var payment *model.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.recordPaymentFromOrder(ctx, tx, rail, order, withdrawPercent)
		return err
	})
	return payment, err
}

// ConfirmIosPayment 苹果票据服务端复核通过，流水 PENDING -> OPEN
func (s *OrderService) ConfirmIosPayment(ctx context.Context, orderNo string) error {
	payment, err := s.paymentRepo.GetByOrderID(ctx, orderNo)
	if err != nil {
		return err
	}
	if payment.State == model.PaymentStateOpen || payment.State == model.PaymentStateClosed {
		return nil
	}
	return s.paymentRepo.UpdateState(ctx, nil, payment.ID, model.PaymentStatePending, model.PaymentStateOpen)
}

// handleReversal 退款/撤销：订单状态推进，未结算的流水关闭（不入账）
func (s *OrderService) handleReversal(ctx context.Context, rail string, order *model.GatewayOrder, reportedState string) (*model.GatewayOrder, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		fromState := order.State
		// REFUNDED 可能跳过 REFUNDING 直达，中间态补一跳
		if reportedState == model.OrderStateRefunded && fromState == model.OrderStateSuccess {
			if err := s.orderRepo.TransitionState(ctx, tx, rail, order.OrderNo, fromState, model.OrderStateRefunding); err != nil {
				return err
			}
			fromState = model.OrderStateRefunding
		}
		if err := s.orderRepo.TransitionState(ctx, tx, rail, order.OrderNo, fromState, reportedState); err != nil {
			return err
		}

		payment, err := s.paymentRepo.GetByOrderIDTx(ctx, tx, order.OrderNo)
		if err != nil {
			if errors.Is(err, repository.ErrPaymentNotFound) {
				return nil // SUCCESS 前就被撤销，没有流水
			}
			return err
		}

		switch payment.State {
		case model.PaymentStateClosed:
			// 已结算后退款走线下追偿，账本不回滚
			log.Printf("[OrderService] 流水已结算后发生退款，需人工处理: orderNo=%s, paymentNo=%s",
				order.OrderNo, payment.PaymentNo)
			return nil
		default:
			if _, err := s.paymentRepo.CloseBatch(ctx, tx, []int64{payment.ID}, payment.State); err != nil {
				return err
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	order.State = reportedState
	log.Printf("[OrderService] 订单冲正: rail=%s, orderNo=%s, state=%s", rail, order.OrderNo, reportedState)
	return order, nil
}

func (s *OrderService) pendingDays(rail string) int {
	switch rail {
	case repository.RailWechat:
		return s.cfg.Business.WechatPendingDays
	case repository.RailAlipay:
		return s.cfg.Business.AlipayPendingDays
	case repository.RailIos:
		return s.cfg.Business.IosPendingDays
	default:
		return 0
	}
}

func paymentTypeForProperty(propertyType string) string {
	switch propertyType {
	case model.PropertyTypeMembership:
		return model.PaymentTypeMembership
	case model.PropertyTypeSupport:
		return model.PaymentTypeSupport
	case model.PropertyTypeFeed:
		return model.PaymentTypeFeedCharge
	default:
		return model.PaymentTypeWechatPay
	}
}

// GetOrder 查询订单
func (s *OrderService) GetOrder(ctx context.Context, rail, orderNo string) (*model.GatewayOrder, error) {
	return s.orderRepo.GetByOrderNo(ctx, rail, orderNo)
}

// ListUserOrders 查询用户订单列表
func (s *OrderService) ListUserOrders(ctx context.Context, rail, userID string, page, pageSize int) ([]*model.GatewayOrder, int64, error) {
	return s.orderRepo.ListByUserID(ctx, rail, userID, page, pageSize)
}

// ListPayeePayments 查询创作者的入账流水列表
func (s *OrderService) ListPayeePayments(ctx context.Context, payeeID string, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.paymentRepo.ListByPayeeID(ctx, payeeID, page, pageSize)
}
