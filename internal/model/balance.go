package model

import (
	"time"

	"gorm.io/gorm"
)

// Balance 创作者钱包表
// 记录每个用户的现金余额与贝壳余额，是整个结算体系的核心数据
//
// 【重要】不变式：balance_eligible_in_cents <= balance_in_cents
// eligible 是已过成熟期、可提现的部分；结算时两者同时增加，
// 提现时两者同时减少
type Balance struct {
	ID                      int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                  string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"` // 用户ID，业务方传入
	BalanceInCents          int64          `gorm:"not null;default:0" json:"balance_in_cents"`           // 现金余额（分）
	BalanceEligibleInCents  int64          `gorm:"not null;default:0" json:"balance_eligible_in_cents"`  // 可提现余额（分）
	BalanceInShells         int64          `gorm:"not null;default:0" json:"balance_in_shells"`          // 贝壳余额
	WithdrawDayLimitInCents int64          `gorm:"not null;default:0" json:"withdraw_day_limit_in_cents"` // 单日提现上限（分）
	WithdrawPercent         int64          `gorm:"not null;default:0" json:"withdraw_percent"`           // 分成比例（0-100）
	Frozen                  bool           `gorm:"not null;default:false" json:"frozen"`                 // 冻结标记，冻结期间不结算不提现
	Version                 int            `gorm:"not null;default:0" json:"version"`                    // 乐观锁版本号
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"-"` // 只做软删除，钱包永不物理删除
}

func (Balance) TableName() string {
	return "balance"
}
