package model

import (
	"time"
)

// ============================================================================
// 订单状态常量（与支付网关语义对齐）
// ============================================================================

const (
	OrderStateNotPay     = "NOTPAY"     // 已下单未支付
	OrderStateUserPaying = "USERPAYING" // 用户支付中
	OrderStateSuccess    = "SUCCESS"    // 支付成功（唯一触发流水创建的状态）
	OrderStateClosed     = "CLOSED"     // 超时/主动关闭
	OrderStateRefunding  = "REFUNDING"  // 退款中
	OrderStateRefunded   = "REFUNDED"   // 已退款
	OrderStatePayError   = "PAYERROR"   // 支付失败
	OrderStateRevoked    = "REVOKED"    // 网关撤销
	OrderStateUnknown    = "UNKNOWN"    // 网关响应无法解析，不自动重试
)

// ValidOrderTransitions 订单状态机
// 状态只能由网关回调/轮询结果驱动
var ValidOrderTransitions = map[string][]string{
	OrderStateNotPay:     {OrderStateUserPaying, OrderStateSuccess, OrderStatePayError, OrderStateClosed, OrderStateRevoked, OrderStateUnknown},
	OrderStateUserPaying: {OrderStateSuccess, OrderStatePayError, OrderStateClosed, OrderStateRevoked, OrderStateUnknown},
	OrderStateSuccess:    {OrderStateRefunding, OrderStateRevoked},
	OrderStateRefunding:  {OrderStateRefunded, OrderStateRevoked},
}

// terminalOrderRank 终态的先后次序
// 回调乱序/重复投递时，进入同级或更早终态是无害的空操作
var terminalOrderRank = map[string]int{
	OrderStateSuccess:  1,
	OrderStateClosed:   1,
	OrderStatePayError: 1,
	OrderStateRevoked:  2,
	OrderStateRefunded: 3,
}

// CanOrderTransition 判断订单能否从 from 迁移到 to
func CanOrderTransition(from, to string) bool {
	allowed, exists := ValidOrderTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsOrderTerminal 判断状态是否为终态
func IsOrderTerminal(state string) bool {
	_, ok := terminalOrderRank[state]
	return ok
}

// IsLaterTerminal 判断 current 是否已处于 target 同级或更晚的终态
func IsLaterTerminal(current, target string) bool {
	cur, ok1 := terminalOrderRank[current]
	tgt, ok2 := terminalOrderRank[target]
	return ok1 && ok2 && cur >= tgt
}

// ============================================================================
// 商品类型常量（property_type）
// ============================================================================

const (
	PropertyTypeShell      = "SHELL"      // 购买贝壳
	PropertyTypeMembership = "MEMBERSHIP" // 岛屿会员
	PropertyTypeSupport    = "SUPPORT"    // 赞助
	PropertyTypeFeed       = "FEED"       // 付费动态
)

// GatewayOrder 三条支付通道共享的订单结构
// 网关瞬态字段（签名、prepay_id、order_string、票据）只做透传，不进账本
type GatewayOrder struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID       string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	PayeeID      string    `gorm:"type:varchar(64)" json:"payee_id"`
	TradeNumber  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_number"` // 对网关的幂等键
	FeeInCents   int64     `gorm:"not null" json:"fee_in_cents"`
	ShellCount   int64     `gorm:"not null;default:0" json:"shell_count"`
	PropertyType string    `gorm:"type:varchar(32);not null" json:"property_type"`
	PropertyID   string    `gorm:"type:varchar(64)" json:"property_id"`
	State        string    `gorm:"type:varchar(20);index;not null" json:"state"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WechatOrder 微信支付订单
type WechatOrder struct {
	GatewayOrder
	PrepayID string `gorm:"type:varchar(128)" json:"prepay_id"`
}

func (WechatOrder) TableName() string {
	return "wechat_order"
}

// AlipayOrder 支付宝订单
type AlipayOrder struct {
	GatewayOrder
	OrderString string `gorm:"type:varchar(512)" json:"order_string"`
}

func (AlipayOrder) TableName() string {
	return "alipay_order"
}

// IosOrder 苹果内购订单
type IosOrder struct {
	GatewayOrder
	Receipt       string `gorm:"type:text" json:"-"` // App Store 票据，只用于校验
	TransactionID string `gorm:"type:varchar(128)" json:"transaction_id"`
}

func (IosOrder) TableName() string {
	return "ios_order"
}
