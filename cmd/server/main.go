package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"islandpay/internal/config"
	"islandpay/internal/handler"
	"islandpay/internal/infrastructure/cache"
	"islandpay/internal/infrastructure/database"
	"islandpay/internal/infrastructure/mq"
	"islandpay/internal/notify"
	"islandpay/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)

	// 初始化 ID 生成器
	idgen.Init(cfg.Server.WorkerID)

	// 初始化基础设施
	db := database.InitMySQL(&cfg.MySQL)
	rdb := cache.InitRedis(&cfg.Redis)
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 事件通知器：有界队列，满了丢弃，不反压写路径
	notifier := notify.NewNotifier(cfg.Business.NotifierQueueSize, map[string]string{
		notify.EventNewPayment: cfg.Kafka.Topic.NewPayment,
		notify.EventNewBalance: cfg.Kafka.Topic.NewBalance,
		notify.EventNewMember:  cfg.Kafka.Topic.NewMember,
	}, nil)

	// 注册路由并启动 HTTP 服务
	h := handler.NewHandler(db, rdb, cfg, notifier)
	router := handler.SetupRouter(h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口 %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号，开始优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP 服务关闭异常: %v", err)
	}

	// 先停 HTTP 再关通知器，把已入队的事件发完
	notifier.Close(ctx)

	log.Println("服务已退出")
}
