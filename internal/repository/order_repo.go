package repository

import (
	"context"
	"errors"

	"islandpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = errors.New("订单不存在")
	ErrOrderStateInvalid = errors.New("订单状态不合法")
	ErrUnknownOrderRail  = errors.New("未知的支付通道")
)

// 支付通道标识，同时决定订单落在哪张表
const (
	RailWechat = "wechat"
	RailAlipay = "alipay"
	RailIos    = "ios"
)

var railTables = map[string]string{
	RailWechat: model.WechatOrder{}.TableName(),
	RailAlipay: model.AlipayOrder{}.TableName(),
	RailIos:    model.IosOrder{}.TableName(),
}

// OrderRepository 三条支付通道共用的订单访问层
// 写入用各自的具体结构，读取/状态迁移只关心共享列，按通道路由表名
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) table(rail string) (string, error) {
	t, ok := railTables[rail]
	if !ok {
		return "", ErrUnknownOrderRail
	}
	return t, nil
}

// Create 创建订单（传入 *model.WechatOrder / *model.AlipayOrder / *model.IosOrder）
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order interface{}) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, rail, orderNo string) (*model.GatewayOrder, error) {
	table, err := r.table(rail)
	if err != nil {
		return nil, err
	}

	var order model.GatewayOrder
	err = r.db.WithContext(ctx).Table(table).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByTradeNumber(ctx context.Context, rail, tradeNumber string) (*model.GatewayOrder, error) {
	table, err := r.table(rail)
	if err != nil {
		return nil, err
	}

	var order model.GatewayOrder
	err = r.db.WithContext(ctx).Table(table).Where("trade_number = ?", tradeNumber).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// TransitionState 带状态机校验的订单状态迁移
//
// 【关键点】Where 同时带 order_no 和 from 状态：
// 两个回调并发到达时只有一个 UPDATE 生效，另一个 RowsAffected == 0
func (r *OrderRepository) TransitionState(ctx context.Context, tx *gorm.DB, rail, orderNo string, fromState, toState string) error {
	if !model.CanOrderTransition(fromState, toState) {
		return ErrOrderStateInvalid
	}

	table, err := r.table(rail)
	if err != nil {
		return err
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Table(table).
		Where("order_no = ? AND state = ?", orderNo, fromState).
		Update("state", toState)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStateInvalid
	}

	return nil
}

// ListByUserID 查询用户订单列表
func (r *OrderRepository) ListByUserID(ctx context.Context, rail, userID string, page, pageSize int) ([]*model.GatewayOrder, int64, error) {
	table, err := r.table(rail)
	if err != nil {
		return nil, 0, err
	}

	var orders []*model.GatewayOrder
	var total int64

	query := r.db.WithContext(ctx).Table(table).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
