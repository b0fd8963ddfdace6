package model

import (
	"time"
)

// ============================================================================
// 支付类型常量
// ============================================================================

const (
	PaymentTypeWechatPay  = "WECHAT_PAY"  // 微信充值购买贝壳
	PaymentTypeShellPay   = "SHELL_PAY"   // 贝壳消费（通用）
	PaymentTypeWithdraw   = "WITHDRAW"    // 提现（出账）
	PaymentTypeSupport    = "SUPPORT"     // 赞助
	PaymentTypeMembership = "MEMBERSHIP"  // 会员订阅
	PaymentTypeFeedCharge = "FEED_CHARGE" // 动态解锁
)

// ============================================================================
// 支付状态常量
// ============================================================================

const (
	PaymentStateDrafted = "DRAFTED" // 已创建，等待订单确认
	PaymentStatePending = "PENDING" // 等待外部校验（如苹果票据）
	PaymentStateOpen    = "OPEN"    // 可结算，等待成熟期
	PaymentStateClosed  = "CLOSED"  // 已结算或已终结，唯一的终态
)

// ============================================================================
// 支付流水实体
// ============================================================================

// Payment 支付流水表
// 记录每一笔资金变动的来源，是结算与对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 金额字段创建后不可修改，只允许 state / valid_after 变更
// 2. order_id 唯一索引 —— 网关回调重复投递时不会产生重复流水
// 3. valid_after 之前不可结算 —— 用于实现退款/拒付窗口期
// 4. withdraw_percent 在创建时快照 —— 之后调整分成比例不影响已入账流水
type Payment struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`  // 流水号（全局唯一）
	UserID          string    `gorm:"type:varchar(64);index;not null" json:"user_id"`           // 付款方用户ID
	PayeeID         string    `gorm:"type:varchar(64);index" json:"payee_id"`                   // 收款创作者ID，纯充值为空
	AmountInCents   int64     `gorm:"not null;default:0" json:"amount_in_cents"`                // 金额（分）
	AmountInShells  int64     `gorm:"not null;default:0" json:"amount_in_shells"`               // 金额（贝壳）
	Type            string    `gorm:"type:varchar(20);not null" json:"type"`                    // 支付类型
	State           string    `gorm:"type:varchar(20);index;not null" json:"state"`             // 支付状态
	ValidAfter      int64     `gorm:"not null;default:0;index" json:"valid_after"`              // 成熟时间（毫秒时间戳），之前不可结算
	WithdrawPercent int64     `gorm:"not null;default:100" json:"withdraw_percent"`             // 创建时快照的分成比例
	OrderID         string    `gorm:"type:varchar(64);uniqueIndex" json:"order_id"`             // 来源订单号（幂等键）
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
