package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"islandpay/internal/model"
	"islandpay/internal/repository"
)

func TestGetOrCreateUsesDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())
	ctx := context.Background()

	b, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if b.WithdrawDayLimitInCents != 2000000 {
		t.Errorf("单日上限默认值错误: got %d", b.WithdrawDayLimitInCents)
	}
	if b.WithdrawPercent != 88 {
		t.Errorf("分成比例默认值错误: got %d", b.WithdrawPercent)
	}
	if b.BalanceInCents != 0 || b.BalanceEligibleInCents != 0 || b.BalanceInShells != 0 {
		t.Errorf("新钱包余额应为零: %+v", b)
	}

	// 再次调用拿到同一行
	again, err := svc.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("第二次 GetOrCreate: %v", err)
	}
	if again.ID != b.ID {
		t.Errorf("懒创建不幂等: %d != %d", again.ID, b.ID)
	}
}

func TestGetDoesNotCreate(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())

	_, err := svc.Get(context.Background(), "nobody")
	if !errors.Is(err, repository.ErrBalanceNotFound) {
		t.Fatalf("期望 ErrBalanceNotFound, got %v", err)
	}
}

func TestApplyDeltaRejectsNegative(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())
	ctx := context.Background()

	seedBalance(t, db, &model.Balance{UserID: "u1", BalanceInCents: 100, BalanceEligibleInCents: 100})

	if _, err := svc.ApplyDelta(ctx, nil, "u1", -200, -100, 0); !errors.Is(err, repository.ErrBalanceNotEnough) {
		t.Fatalf("期望 ErrBalanceNotEnough, got %v", err)
	}

	// 失败不落库
	b := loadBalance(t, db, "u1")
	if b.BalanceInCents != 100 {
		t.Errorf("失败的变更不应落库: cents=%d", b.BalanceInCents)
	}
}

func TestApplyDeltaRejectsEligibleAboveCents(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())

	seedBalance(t, db, &model.Balance{UserID: "u1", BalanceInCents: 100, BalanceEligibleInCents: 50})

	// eligible 只增不带 cents：50+100 > 100，违反不变式
	_, err := svc.ApplyDelta(context.Background(), nil, "u1", 0, 100, 0)
	if !errors.Is(err, ErrInvariantBroken) {
		t.Fatalf("期望 ErrInvariantBroken, got %v", err)
	}
}

// 并发变更不丢更新：所有成功的增量最终都要体现在余额里
func TestApplyDeltaConcurrentNoLostUpdate(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())
	ctx := context.Background()

	seedBalance(t, db, &model.Balance{UserID: "u1"})

	const workers = 10
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				// 重试用尽时在调用方层面再来，模拟业务侧的重新提交
				for {
					_, err := svc.ApplyDelta(ctx, nil, "u1", 100, 100, 1)
					if err == nil {
						break
					}
					if !errors.Is(err, ErrRetryExhausted) {
						t.Errorf("意外错误: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	b := loadBalance(t, db, "u1")
	want := int64(workers * perWorker * 100)
	if b.BalanceInCents != want || b.BalanceEligibleInCents != want {
		t.Errorf("余额不一致: cents=%d, eligible=%d, want=%d", b.BalanceInCents, b.BalanceEligibleInCents, want)
	}
	if b.BalanceInShells != int64(workers*perWorker) {
		t.Errorf("贝壳不一致: shells=%d, want=%d", b.BalanceInShells, workers*perWorker)
	}
	if b.Version != workers*perWorker {
		t.Errorf("版本号应等于成功更新次数: version=%d", b.Version)
	}
}

func TestFreezeBlocksNothingButMarks(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, newTestConfig())
	ctx := context.Background()

	seedBalance(t, db, &model.Balance{UserID: "u1"})

	if err := svc.Freeze(ctx, "u1", true); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if b := loadBalance(t, db, "u1"); !b.Frozen {
		t.Error("冻结标记未生效")
	}

	if err := svc.Freeze(ctx, "u1", false); err != nil {
		t.Fatalf("解冻: %v", err)
	}
	if b := loadBalance(t, db, "u1"); b.Frozen {
		t.Error("解冻未生效")
	}
}
