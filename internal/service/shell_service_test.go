package service

import (
	"context"
	"errors"
	"testing"

	"islandpay/internal/model"

	"gorm.io/gorm"
)

func newShellService(t *testing.T) (*ShellService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewShellService(db, newTestConfig(), nil)

	seedBalance(t, db, &model.Balance{UserID: "fan", BalanceInShells: 100})
	seedBalance(t, db, &model.Balance{UserID: "creator", WithdrawPercent: 70})

	return svc, db
}

func TestSubscribeMembership(t *testing.T) {
	svc, db := newShellService(t)
	ctx := context.Background()

	payment, err := svc.SubscribeMembership(ctx, "fan", "island1", "creator", "m1", 30, 31)
	if err != nil {
		t.Fatalf("SubscribeMembership: %v", err)
	}

	if b := loadBalance(t, db, "fan"); b.BalanceInShells != 70 {
		t.Errorf("买家贝壳应即时扣减: %d", b.BalanceInShells)
	}
	// 创作者不即时入账，等结算
	if b := loadBalance(t, db, "creator"); b.BalanceInShells != 0 || b.BalanceInCents != 0 {
		t.Errorf("创作者不应即时入账: %+v", b)
	}

	if payment.State != model.PaymentStateOpen {
		t.Errorf("流水应为 OPEN: %s", payment.State)
	}
	// 贝壳出账统一记 SHELL_PAY，商品类别由会员记录回答
	if payment.Type != model.PaymentTypeShellPay {
		t.Errorf("流水类型错误: %s", payment.Type)
	}
	if payment.AmountInShells != 30 || payment.AmountInCents != 0 {
		t.Errorf("贝壳流水金额错误: shells=%d, cents=%d", payment.AmountInShells, payment.AmountInCents)
	}
	if payment.WithdrawPercent != 70 {
		t.Errorf("分成比例快照错误: %d", payment.WithdrawPercent)
	}

	var membership model.SubscribeMembership
	if err := db.Where("user_id = ? AND island_id = ?", "fan", "island1").First(&membership).Error; err != nil {
		t.Fatalf("会员记录未落库: %v", err)
	}
	if membership.PaymentID != payment.ID {
		t.Errorf("会员记录未关联流水: %d != %d", membership.PaymentID, payment.ID)
	}
}

func TestSponsorInsufficientShells(t *testing.T) {
	svc, db := newShellService(t)

	_, err := svc.Sponsor(context.Background(), "fan", "island1", "creator", 101)
	if !errors.Is(err, ErrShellNotEnough) {
		t.Fatalf("期望 ErrShellNotEnough, got %v", err)
	}

	// 失败不扣减、不留流水
	if b := loadBalance(t, db, "fan"); b.BalanceInShells != 100 {
		t.Errorf("失败不应扣贝壳: %d", b.BalanceInShells)
	}
	var n int64
	db.Model(&model.Payment{}).Count(&n)
	if n != 0 {
		t.Errorf("失败不应留流水: %d", n)
	}
}

func TestUnlockFeedOnlyOnce(t *testing.T) {
	svc, db := newShellService(t)
	ctx := context.Background()

	if _, err := svc.UnlockFeed(ctx, "fan", "feed1", "creator", 10); err != nil {
		t.Fatalf("首次解锁: %v", err)
	}

	_, err := svc.UnlockFeed(ctx, "fan", "feed1", "creator", 10)
	if !errors.Is(err, ErrAlreadyUnlocked) {
		t.Fatalf("期望 ErrAlreadyUnlocked, got %v", err)
	}

	if b := loadBalance(t, db, "fan"); b.BalanceInShells != 90 {
		t.Errorf("重复解锁不应再扣: %d", b.BalanceInShells)
	}
}

func TestSpendShellsRejectsSelfPayment(t *testing.T) {
	svc, _ := newShellService(t)

	if _, err := svc.Sponsor(context.Background(), "fan", "island1", "fan", 10); err == nil {
		t.Fatal("给自己付款应被拒绝")
	}
}

func TestSpendShellsRejectsNonPositive(t *testing.T) {
	svc, _ := newShellService(t)

	if _, err := svc.Sponsor(context.Background(), "fan", "island1", "creator", 0); err == nil {
		t.Fatal("零贝壳消费应被拒绝")
	}
}
