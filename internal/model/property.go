package model

import (
	"time"
)

// 商品侧记录：每行指向恰好一笔支付流水
// 结算触发通知时用 property 反查"买了什么"

// SubscribeMembership 会员订阅记录
type SubscribeMembership struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	IslandID     string    `gorm:"type:varchar(64);index;not null" json:"island_id"`
	MembershipID string    `gorm:"type:varchar(64);not null" json:"membership_id"`
	PaymentID    int64     `gorm:"uniqueIndex;not null" json:"payment_id"`
	ExpiredAt    time.Time `gorm:"not null" json:"expired_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SubscribeMembership) TableName() string {
	return "subscribe_membership"
}

// SponsorHistory 赞助记录
type SponsorHistory struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	IslandID  string    `gorm:"type:varchar(64);index;not null" json:"island_id"`
	GiftCount int64     `gorm:"not null;default:0" json:"gift_count"`
	PaymentID int64     `gorm:"uniqueIndex;not null" json:"payment_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SponsorHistory) TableName() string {
	return "sponsor_history"
}

// FeedCharge 付费动态解锁记录
type FeedCharge struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	FeedID    string    `gorm:"type:varchar(64);index;not null" json:"feed_id"`
	PaymentID int64     `gorm:"uniqueIndex;not null" json:"payment_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FeedCharge) TableName() string {
	return "feed_charge"
}
