package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"islandpay/internal/config"
	"islandpay/internal/infrastructure/cache"
	"islandpay/internal/infrastructure/database"
	"islandpay/internal/infrastructure/lock"
	"islandpay/internal/infrastructure/mq"
	"islandpay/internal/job"
	"islandpay/internal/notify"
	"islandpay/pkg/idgen"

	"github.com/robfig/cron/v3"
)

// 结算调度进程：独立于 API 服务部署，可多实例（分布式锁保证单跑）
func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	runOnce := flag.Bool("once", false, "立即执行一次结算+清扫后退出（运维补跑用）")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)
	idgen.Init(cfg.Server.WorkerID)

	db := database.InitMySQL(&cfg.MySQL)
	rdb := cache.InitRedis(&cfg.Redis)
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	notifier := notify.NewNotifier(cfg.Business.NotifierQueueSize, map[string]string{
		notify.EventNewPayment: cfg.Kafka.Topic.NewPayment,
		notify.EventNewBalance: cfg.Kafka.Topic.NewBalance,
		notify.EventNewMember:  cfg.Kafka.Topic.NewMember,
	}, nil)

	settler := job.NewSettler(db, cfg, lock.NewRedisLocker(rdb), notifier)

	if *runOnce {
		ctx := context.Background()
		if err := settler.RunSettlement(ctx); err != nil {
			log.Printf("结算执行失败: %v", err)
		}
		if err := settler.RunExpireSweep(ctx); err != nil {
			log.Printf("清扫执行失败: %v", err)
		}
		notifier.Close(ctx)
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(cfg.Business.SettleCron, func() {
		if err := settler.RunSettlement(context.Background()); err != nil {
			log.Printf("结算执行失败: %v", err)
		}
	}); err != nil {
		log.Fatalf("注册结算任务失败: %v", err)
	}

	if _, err := c.AddFunc(cfg.Business.ExpireCron, func() {
		if err := settler.RunExpireSweep(context.Background()); err != nil {
			log.Printf("清扫执行失败: %v", err)
		}
	}); err != nil {
		log.Fatalf("注册清扫任务失败: %v", err)
	}

	c.Start()
	log.Printf("结算调度已启动: settle=%q, expire=%q", cfg.Business.SettleCron, cfg.Business.ExpireCron)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号，等待进行中的任务结束...")

	// Stop 返回的 ctx 在所有运行中的任务结束后完成
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Minute):
		log.Println("等待任务结束超时，强制退出")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	notifier.Close(ctx)

	log.Println("结算调度已退出")
}
