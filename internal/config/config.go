package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"` // 雪花算法机器ID
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	NewPayment string `mapstructure:"new_payment"`
	NewBalance string `mapstructure:"new_balance"`
	NewMember  string `mapstructure:"new_member"`
}

type BusinessConfig struct {
	// 结算任务
	SettleBatchSize   int    `mapstructure:"settle_batch_size"`    // 每页拉取的 OPEN 流水数
	SettleWorkerCount int    `mapstructure:"settle_worker_count"`  // 结算工作协程数
	SettleLockTTLHour int    `mapstructure:"settle_lock_ttl_hour"` // 结算锁 TTL（小时）
	SettleCron        string `mapstructure:"settle_cron"`          // 结算调度表达式
	ExpireCron        string `mapstructure:"expire_cron"`          // 超期清扫调度表达式

	// 成熟期（天）：valid_after = 支付成功时间 + 窗口
	WechatPendingDays int `mapstructure:"wechat_pending_days"`
	AlipayPendingDays int `mapstructure:"alipay_pending_days"`
	IosPendingDays    int `mapstructure:"ios_pending_days"`
	ShellPendingDays  int `mapstructure:"shell_pending_days"`

	// 钱包默认值（懒创建时使用）
	DefaultWithdrawDayLimitInCents int64 `mapstructure:"default_withdraw_day_limit_in_cents"`
	DefaultWithdrawPercent         int64 `mapstructure:"default_withdraw_percent"`

	// 通知队列
	NotifierQueueSize int `mapstructure:"notifier_queue_size"`

	MaxRetryCount int `mapstructure:"max_retry_count"` // 乐观锁重试上限
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	applyDefaults(config)

	GlobalConfig = config
	return config
}

func applyDefaults(c *Config) {
	if c.Business.SettleBatchSize <= 0 {
		c.Business.SettleBatchSize = 5000
	}
	if c.Business.SettleWorkerCount <= 0 {
		c.Business.SettleWorkerCount = 8
	}
	if c.Business.SettleLockTTLHour <= 0 {
		c.Business.SettleLockTTLHour = 20
	}
	if c.Business.SettleCron == "" {
		c.Business.SettleCron = "30 2 * * *" // 每天凌晨 2:30
	}
	if c.Business.ExpireCron == "" {
		c.Business.ExpireCron = "30 4 * * *" // 每天凌晨 4:30
	}
	if c.Business.NotifierQueueSize <= 0 {
		c.Business.NotifierQueueSize = 1024
	}
	if c.Business.MaxRetryCount <= 0 {
		c.Business.MaxRetryCount = 3
	}
	if c.Business.DefaultWithdrawPercent <= 0 {
		c.Business.DefaultWithdrawPercent = 88
	}
}
