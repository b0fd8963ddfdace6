package job

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"islandpay/internal/config"
	"islandpay/internal/infrastructure/lock"
	"islandpay/internal/model"
	"islandpay/internal/notify"
	"islandpay/internal/repository"
	"islandpay/internal/service"

	"gorm.io/gorm"
)

// ============================================================================
// 结算引擎
// ============================================================================
//
// 【职责】把已过成熟期的 OPEN 流水按分成比例入账到创作者钱包，并恰好一次地
// 关闭这些流水。定时调度、可断点续跑。
//
// 【算法】
// 1. 抢全局分布式锁（key=settler，TTL 约一天）；抢不到说明本窗口已有实例
//    在跑，静默退出，不算错误
// 2. 循环拉页：每页至多 N 条成熟 OPEN 流水，按创建时间从老到新
// 3. 页内按 payee_id 分桶，hash(payee) % workerCount 固定分配到工作协程——
//    同一收款方的所有流水永远落在同一个 worker，两个 worker 绝不会
//    同时碰同一行钱包
// 4. 每桶：读一次钱包，整型算 Σ(amount * percent / 100)，入账 + 批量关闭
//    同一事务提交
// 5. 某桶失败只丢弃该桶，其余桶照常提交；失败桶的流水保持 OPEN，
//    由下一次调度自然重试 —— 整个任务天然幂等、桶粒度可续跑
// 6. 成功失败都释放锁，不阻塞下一个调度窗口
//
// 【数值语义】全程整型分；先乘后整除（截断），与历史结算金额对齐
//
// ============================================================================

const (
	settleLockKey = "settler"
	expireLockKey = "settler:expire"
)

// Settler 结算任务
type Settler struct {
	db             *gorm.DB
	cfg            *config.Config
	locker         lock.Locker
	balanceService *service.BalanceService
	paymentRepo    *repository.PaymentRepository
	runRepo        *repository.SettlementRunRepository
	notifier       *notify.Notifier
}

func NewSettler(db *gorm.DB, cfg *config.Config, locker lock.Locker, notifier *notify.Notifier) *Settler {
	return &Settler{
		db:             db,
		cfg:            cfg,
		locker:         locker,
		balanceService: service.NewBalanceService(db, cfg),
		paymentRepo:    repository.NewPaymentRepository(db),
		runRepo:        repository.NewSettlementRunRepository(db),
		notifier:       notifier,
	}
}

// bucket 同一收款方在一页内的全部流水
type bucket struct {
	payeeID  string
	payments []*model.Payment
}

// bucketResult 单桶结算结果
type bucketResult struct {
	payeeID        string
	closed         int
	creditedCents  int64
	creditedShells int64
	skipped        bool
	err            error
}

// RunSettlement 执行一次完整结算
func (s *Settler) RunSettlement(ctx context.Context) error {
	ttl := time.Duration(s.cfg.Business.SettleLockTTLHour) * time.Hour
	acquired, err := s.locker.TryAcquire(ctx, settleLockKey, ttl)
	if err != nil {
		return fmt.Errorf("抢结算锁失败: %w", err)
	}
	if !acquired {
		// 另一个实例持有本窗口，静默退出
		log.Println("[Settler] 结算锁被占用，本次跳过")
		return nil
	}
	// 锁覆盖整个多页运行：换页间隙也不给第二个实例双跑窗口
	defer func() {
		if err := s.locker.Release(context.Background(), settleLockKey); err != nil {
			log.Printf("[Settler] 释放结算锁失败（等待 TTL 过期）: %v", err)
		}
	}()

	run, err := s.runRepo.Begin(ctx, model.SettlementRunKindSettle)
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}

	runErr := s.settleLoop(ctx, run)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.runRepo.Finish(ctx, run, errMsg); err != nil {
		log.Printf("[Settler] 收尾运行记录失败: %v", err)
	}

	log.Printf("[Settler] 结算完成: pages=%d, closed=%d, creditedCents=%d, creditedShells=%d, skipped=%d, err=%v",
		run.Pages, run.ClosedPayments, run.CreditedCents, run.CreditedShells, run.SkippedBuckets, runErr)

	return runErr
}

func (s *Settler) settleLoop(ctx context.Context, run *model.SettlementRun) error {
	batchSize := s.cfg.Business.SettleBatchSize
	// 本轮失败/跳过的收款方，之后的拉页在 SQL 层排除
	//
	// 【关键点】排除必须进查询条件而不是只在内存过滤：
	// 跳过桶的老流水会一直占住最老的一页，内存过滤等于整页空转直接收工，
	// 某个冻结收款方积压满一页就能饿死排在后面的所有人
	stuckPayees := make(map[string]bool)

	for {
		excluded := make([]string, 0, len(stuckPayees))
		for payee := range stuckPayees {
			excluded = append(excluded, payee)
		}

		page, err := s.paymentRepo.GetSettleablePage(ctx, time.Now(), excluded, batchSize)
		if err != nil {
			return fmt.Errorf("拉取待结算流水失败: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		run.Pages++
		results := s.processBuckets(ctx, partitionByPayee(page), s.settleBucket)

		for _, r := range results {
			if r.err != nil {
				log.Printf("[Settler] 桶结算失败，流水保持 OPEN 待下次重试: payee=%s, err=%v", r.payeeID, r.err)
				stuckPayees[r.payeeID] = true
				continue
			}
			if r.skipped {
				run.SkippedBuckets++
				stuckPayees[r.payeeID] = true
				continue
			}
			run.ClosedPayments += r.closed
			run.CreditedCents += r.creditedCents
			run.CreditedShells += r.creditedShells
		}
		// 每轮要么关闭了流水，要么新增了被排除的收款方，循环必然收敛
	}
}

// processBuckets 把桶分发到固定大小的工作协程池并等待全部完成
//
// 【关键点】按 hash(payee) 取模分发，而不是抢占式队列：
// 分发的确定性就是"同收款方绝不并发"这条约束本身
func (s *Settler) processBuckets(ctx context.Context, buckets []*bucket, work func(ctx context.Context, b *bucket) bucketResult) []bucketResult {
	workerCount := s.cfg.Business.SettleWorkerCount

	inboxes := make([]chan *bucket, workerCount)
	for i := range inboxes {
		inboxes[i] = make(chan *bucket, len(buckets))
	}
	for _, b := range buckets {
		inboxes[payeeWorkerIndex(b.payeeID, workerCount)] <- b
	}

	resultCh := make(chan bucketResult, len(buckets))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		close(inboxes[i])
		wg.Add(1)
		go func(inbox chan *bucket) {
			defer wg.Done()
			for b := range inbox {
				resultCh <- work(ctx, b)
			}
		}(inboxes[i])
	}

	wg.Wait()
	close(resultCh)

	results := make([]bucketResult, 0, len(buckets))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// settleBucket 结算一个收款方的桶
//
// 入账与关闭同一事务：钱包的读者看到的要么是"已加钱且流水已关"，
// 要么是"没加钱且流水还开着"，不存在中间态
func (s *Settler) settleBucket(ctx context.Context, b *bucket) bucketResult {
	result := bucketResult{payeeID: b.payeeID}

	balance, err := s.balanceService.Get(ctx, b.payeeID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			// 结算不是钱包的创建路径：没有钱包就跳过，等钱包建好再结
			log.Printf("[Settler] 收款方无钱包，桶跳过: payee=%s, payments=%d", b.payeeID, len(b.payments))
			result.skipped = true
			return result
		}
		result.err = err
		return result
	}

	if balance.Frozen {
		log.Printf("[Settler] 收款方钱包已冻结，桶跳过: payee=%s", b.payeeID)
		result.skipped = true
		return result
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(b.payments))
		for _, p := range b.payments {
			ids = append(ids, p.ID)
		}

		// 事务内锁定重读：只对此刻仍然 OPEN 的行计算入账
		open, err := s.paymentRepo.GetOpenByIDsForUpdate(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}

		var totalCents, totalShells int64
		closeIDs := make([]int64, 0, len(open))
		for _, p := range open {
			// 零/负金额不应该走到引擎；真出现说明创建路径被绕过，整桶失败
			if p.AmountInCents < 0 || p.AmountInShells < 0 || (p.AmountInCents == 0 && p.AmountInShells == 0) {
				return fmt.Errorf("%w: paymentNo=%s, cents=%d, shells=%d",
					repository.ErrInvalidAmount, p.PaymentNo, p.AmountInCents, p.AmountInShells)
			}
			// 先乘后整除（截断），分成比例用流水上的快照值
			totalCents += p.AmountInCents * p.WithdrawPercent / 100
			totalShells += p.AmountInShells * p.WithdrawPercent / 100
			closeIDs = append(closeIDs, p.ID)
		}

		if _, err := s.balanceService.ApplyDelta(ctx, tx, b.payeeID, totalCents, totalCents, totalShells); err != nil {
			return err
		}

		closed, err := s.paymentRepo.CloseBatch(ctx, tx, closeIDs, model.PaymentStateOpen)
		if err != nil {
			return err
		}
		if closed != int64(len(closeIDs)) {
			return fmt.Errorf("关闭流水数不一致: 期望=%d, 实际=%d", len(closeIDs), closed)
		}

		result.closed = len(closeIDs)
		result.creditedCents = totalCents
		result.creditedShells = totalShells
		return nil
	})
	if err != nil {
		result.err = err
		return result
	}

	if result.closed > 0 && s.notifier != nil {
		s.notifier.Publish(notify.EventNewBalance, b.payeeID, map[string]interface{}{
			"user_id":         b.payeeID,
			"credited_cents":  result.creditedCents,
			"credited_shells": result.creditedShells,
			"closed_payments": result.closed,
		})
	}

	return result
}

// RunExpireSweep 清扫超期未确认的 PENDING 流水
// 与结算共用分桶与加锁纪律，但只关闭不入账（视为放弃的支付）
func (s *Settler) RunExpireSweep(ctx context.Context) error {
	ttl := time.Duration(s.cfg.Business.SettleLockTTLHour) * time.Hour
	acquired, err := s.locker.TryAcquire(ctx, expireLockKey, ttl)
	if err != nil {
		return fmt.Errorf("抢清扫锁失败: %w", err)
	}
	if !acquired {
		log.Println("[Settler] 清扫锁被占用，本次跳过")
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), expireLockKey); err != nil {
			log.Printf("[Settler] 释放清扫锁失败（等待 TTL 过期）: %v", err)
		}
	}()

	run, err := s.runRepo.Begin(ctx, model.SettlementRunKindExpire)
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}

	runErr := s.expireLoop(ctx, run)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.runRepo.Finish(ctx, run, errMsg); err != nil {
		log.Printf("[Settler] 收尾运行记录失败: %v", err)
	}

	log.Printf("[Settler] 清扫完成: pages=%d, closed=%d, err=%v", run.Pages, run.ClosedPayments, runErr)
	return runErr
}

func (s *Settler) expireLoop(ctx context.Context, run *model.SettlementRun) error {
	batchSize := s.cfg.Business.SettleBatchSize

	for {
		page, err := s.paymentRepo.GetLapsedPendingPage(ctx, time.Now(), batchSize)
		if err != nil {
			return fmt.Errorf("拉取超期流水失败: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		run.Pages++
		results := s.processBuckets(ctx, partitionByPayee(page), s.expireBucket)

		progressed := false
		for _, r := range results {
			if r.err != nil {
				log.Printf("[Settler] 桶清扫失败: payee=%s, err=%v", r.payeeID, r.err)
				continue
			}
			if r.closed > 0 {
				progressed = true
			}
			run.ClosedPayments += r.closed
		}
		if !progressed {
			return nil
		}
	}
}

// expireBucket 关闭一个桶的超期 PENDING 流水，不触碰钱包
func (s *Settler) expireBucket(ctx context.Context, b *bucket) bucketResult {
	result := bucketResult{payeeID: b.payeeID}

	ids := make([]int64, 0, len(b.payments))
	for _, p := range b.payments {
		ids = append(ids, p.ID)
	}

	closed, err := s.paymentRepo.CloseBatch(ctx, nil, ids, model.PaymentStatePending)
	if err != nil {
		result.err = err
		return result
	}

	result.closed = int(closed)
	if closed > 0 {
		log.Printf("[Settler] 超期流水已关闭: payee=%s, count=%d", b.payeeID, closed)
	}
	return result
}

// partitionByPayee 按收款方分桶，保持页内从老到新的顺序
func partitionByPayee(payments []*model.Payment) []*bucket {
	index := make(map[string]*bucket)
	var buckets []*bucket
	for _, p := range payments {
		b, ok := index[p.PayeeID]
		if !ok {
			b = &bucket{payeeID: p.PayeeID}
			index[p.PayeeID] = b
			buckets = append(buckets, b)
		}
		b.payments = append(b.payments, p)
	}
	return buckets
}

// payeeWorkerIndex 同一收款方永远映射到同一个 worker
func payeeWorkerIndex(payeeID string, workerCount int) int {
	h := fnv.New32a()
	h.Write([]byte(payeeID))
	return int(h.Sum32() % uint32(workerCount))
}
