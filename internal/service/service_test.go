package service

import (
	"testing"

	"islandpay/internal/config"
	"islandpay/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 内存 sqlite，单连接串行化，避免并发测试里的 SQLITE_BUSY
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层 DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&model.Balance{},
		&model.Payment{},
		&model.WechatOrder{},
		&model.AlipayOrder{},
		&model.IosOrder{},
		&model.SubscribeMembership{},
		&model.SponsorHistory{},
		&model.FeedCharge{},
		&model.SettlementRun{},
	)
	if err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			SettleBatchSize:                100,
			SettleWorkerCount:              4,
			SettleLockTTLHour:              1,
			WechatPendingDays:              7,
			AlipayPendingDays:              7,
			IosPendingDays:                 30,
			ShellPendingDays:               3,
			DefaultWithdrawDayLimitInCents: 2000000,
			DefaultWithdrawPercent:         88,
			NotifierQueueSize:              16,
			MaxRetryCount:                  5,
		},
	}
}

func seedBalance(t *testing.T, db *gorm.DB, b *model.Balance) *model.Balance {
	t.Helper()
	if b.WithdrawPercent == 0 {
		b.WithdrawPercent = 88
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("写入测试钱包失败: %v", err)
	}
	return b
}

func loadBalance(t *testing.T, db *gorm.DB, userID string) *model.Balance {
	t.Helper()
	var b model.Balance
	if err := db.Where("user_id = ?", userID).First(&b).Error; err != nil {
		t.Fatalf("读取测试钱包失败: %v", err)
	}
	return &b
}
