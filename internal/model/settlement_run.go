package model

import (
	"time"
)

const (
	SettlementRunKindSettle = "SETTLE" // 结算：成熟 OPEN 流水入账并关闭
	SettlementRunKindExpire = "EXPIRE" // 过期清扫：超期 PENDING 流水直接关闭
)

const (
	SettlementRunStatusRunning   = "RUNNING"
	SettlementRunStatusSucceeded = "SUCCEEDED"
	SettlementRunStatusFailed    = "FAILED"
)

// SettlementRun 结算批次运行记录
// 每次结算/清扫任务写一行，记录本次关闭了多少流水、入账多少金额
// 任务中途失败时状态为 FAILED，剩余 OPEN 流水由下一次调度自然接管
type SettlementRun struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind                 string     `gorm:"type:varchar(20);not null" json:"kind"`
	Status               string     `gorm:"type:varchar(20);index;not null;default:RUNNING" json:"status"`
	Pages                int        `gorm:"not null;default:0" json:"pages"`
	ClosedPayments       int        `gorm:"not null;default:0" json:"closed_payments"`
	CreditedCents        int64      `gorm:"not null;default:0" json:"credited_cents"`
	CreditedShells       int64      `gorm:"not null;default:0" json:"credited_shells"`
	SkippedBuckets       int        `gorm:"not null;default:0" json:"skipped_buckets"`
	ErrorMessage         string     `gorm:"type:varchar(512)" json:"error_message"`
	StartedAt            time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SettlementRun) TableName() string {
	return "settlement_run"
}
