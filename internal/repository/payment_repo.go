package repository

import (
	"context"
	"errors"
	"time"

	"islandpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound     = errors.New("支付流水不存在")
	ErrPaymentStateInvalid = errors.New("支付流水状态不合法")
	ErrInvalidAmount       = errors.New("流水金额必须大于0")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateFromOrder 按订单号幂等创建流水
//
// 【关键点】order_id 唯一索引 + OnConflict DoNothing：
// 网关回调重复投递时第二次插入不落行，随后按 order_id 读回已有流水，
// 调用方拿到的永远是同一行
func (r *PaymentRepository) CreateFromOrder(ctx context.Context, tx *gorm.DB, payment *model.Payment) (*model.Payment, error) {
	if payment.AmountInCents <= 0 && payment.AmountInShells <= 0 {
		return nil, ErrInvalidAmount
	}
	if tx == nil {
		tx = r.db
	}

	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(payment).Error
	if err != nil {
		return nil, err
	}

	return r.getByOrderID(ctx, tx, payment.OrderID)
}

func (r *PaymentRepository) getByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	return r.getByOrderID(ctx, r.db, orderID)
}

// GetByOrderIDTx 事务内按订单号查流水
func (r *PaymentRepository) GetByOrderIDTx(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error) {
	if tx == nil {
		tx = r.db
	}
	return r.getByOrderID(ctx, tx, orderID)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// Create 直接创建流水（提现出账等非订单来源）
func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

// UpdateState 带前置状态校验的状态迁移
func (r *PaymentRepository) UpdateState(ctx context.Context, tx *gorm.DB, paymentID int64, fromState, toState string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND state = ?", paymentID, fromState).
		Update("state", toState)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStateInvalid
	}
	return nil
}

// GetSettleablePage 拉取一页可结算流水
// 条件：OPEN、已过成熟期、有收款方；按创建时间从老到新，避免长期饿死
//
// 【关键点】excludePayees 必须下推到 SQL：跳过桶的流水保持 OPEN 且排序靠前，
// 只在内存里过滤的话，同一批老流水会填满之后的每一页，
// 排在后面的健康收款方永远轮不到
func (r *PaymentRepository) GetSettleablePage(ctx context.Context, now time.Time, excludePayees []string, limit int) ([]*model.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("state = ? AND valid_after <= ? AND payee_id <> ''", model.PaymentStateOpen, now.UnixMilli())
	if len(excludePayees) > 0 {
		query = query.Where("payee_id NOT IN ?", excludePayees)
	}

	var payments []*model.Payment
	err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// GetLapsedPendingPage 拉取一页超期未确认的 PENDING 流水
func (r *PaymentRepository) GetLapsedPendingPage(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("state = ? AND valid_after <= ?", model.PaymentStatePending, now.UnixMilli()).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// GetOpenByIDsForUpdate 事务内锁定重读仍然 OPEN 的流水
// 结算桶在提交前用它对齐"入账金额"与"实际要关闭的行"，
// 避免给拉页之后被退款关掉的流水入账
func (r *PaymentRepository) GetOpenByIDsForUpdate(ctx context.Context, tx *gorm.DB, ids []int64) ([]*model.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if tx == nil {
		tx = r.db
	}

	query := tx.WithContext(ctx)
	// sqlite 单写者天然串行，FOR UPDATE 只在 MySQL 上需要（语法也只有它认）
	if tx.Dialector.Name() == "mysql" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var payments []*model.Payment
	err := query.
		Where("id IN ? AND state = ?", ids, model.PaymentStateOpen).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

// CloseBatch 把一组流水从 fromState 批量置为 CLOSED
// 返回实际关闭行数；与余额变更同一事务时保证"入账与关闭不可分割"
func (r *PaymentRepository) CloseBatch(ctx context.Context, tx *gorm.DB, ids []int64, fromState string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id IN ? AND state = ?", ids, fromState).
		Update("state", model.PaymentStateClosed)

	return result.RowsAffected, result.Error
}

// SumWithdrawSince 统计某用户自 since 以来的提现总额（分）
// 提现流水的 amount_in_cents 记正数，这里直接求和；
// 限额校验时必须在锁定钱包行的同一事务里调用
func (r *PaymentRepository) SumWithdrawSince(ctx context.Context, tx *gorm.DB, userID string, since time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	var total int64
	err := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Select("COALESCE(SUM(amount_in_cents), 0)").
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, model.PaymentTypeWithdraw, since).
		Scan(&total).Error
	return total, err
}

// ListByPayeeID 查询创作者的入账流水
func (r *PaymentRepository) ListByPayeeID(ctx context.Context, payeeID string, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("payee_id = ?", payeeID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
