// 文件: pkg/config/env.go
// 运行时环境配置
//
// 交易规则是编译期常量 (config.go)，外部资源地址从环境变量读取。
// 本地开发通过 .env 文件注入 (godotenv)。

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env 运行时配置
type Env struct {
	// 数据库
	MySQLDSN string

	// Redis (订单队列)
	RedisAddr string

	// NATS 事件总线 (可选，空则不发布)
	NATSURL string

	// Kafka K线归档 (可选，空则不归档)
	KafkaBrokers string

	// 上游行情源
	FeedDriver  string // 行情驱动名，空用默认驱动
	FeedMode    string // live / sim
	FeedRESTURL string // 非空时覆盖驱动自带地址
	FeedWSURL   string

	// 行情重连间隔
	FeedReconnectInterval time.Duration

	// 订阅者队列容量
	SubscriberQueueSize int
}

// LoadEnv 加载环境配置
// .env 文件不存在不视为错误 (容器环境直接注入变量)
func LoadEnv() *Env {
	_ = godotenv.Load()

	return &Env{
		MySQLDSN:              getEnv("DATABASE_DSN", "root:123456@tcp(127.0.0.1:3306)/tzero?charset=utf8mb4&parseTime=True&loc=Local"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:               getEnv("NATS_URL", ""),
		KafkaBrokers:          getEnv("KAFKA_BROKERS", ""),
		FeedDriver:            getEnv("FEED_DRIVER", ""),
		FeedMode:              getEnv("FEED_MODE", "live"),
		FeedRESTURL:           getEnv("FEED_REST_URL", ""),
		FeedWSURL:             getEnv("FEED_WS_URL", ""),
		FeedReconnectInterval: getDuration("FEED_RECONNECT_INTERVAL", 5*time.Second),
		SubscriberQueueSize:   getInt("SUBSCRIBER_QUEUE_SIZE", 100),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
