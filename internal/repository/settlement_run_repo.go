package repository

import (
	"context"
	"time"

	"islandpay/internal/model"

	"gorm.io/gorm"
)

type SettlementRunRepository struct {
	db *gorm.DB
}

func NewSettlementRunRepository(db *gorm.DB) *SettlementRunRepository {
	return &SettlementRunRepository{db: db}
}

func (r *SettlementRunRepository) Begin(ctx context.Context, kind string) (*model.SettlementRun, error) {
	run := &model.SettlementRun{
		Kind:      kind,
		Status:    model.SettlementRunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Finish 收尾运行记录
// 运行记录只是观测数据，写失败不影响结算本身的正确性
func (r *SettlementRunRepository) Finish(ctx context.Context, run *model.SettlementRun, errMsg string) error {
	now := time.Now()
	run.FinishedAt = &now
	if errMsg == "" {
		run.Status = model.SettlementRunStatusSucceeded
	} else {
		run.Status = model.SettlementRunStatusFailed
		if len(errMsg) > 512 {
			errMsg = errMsg[:512]
		}
		run.ErrorMessage = errMsg
	}
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *SettlementRunRepository) ListRecent(ctx context.Context, kind string, limit int) ([]*model.SettlementRun, error) {
	var runs []*model.SettlementRun
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
