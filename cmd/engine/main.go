// 文件: cmd/engine/main.go
// 模拟交易引擎进程
//
// 【组装】
// 行情: Bybit WS -> Broadcaster -> (价格回调) Registry 重估/强平
// 订单: Redis orders_queue -> Worker -> PaperExchange -> Registry
// 落库: GORM/MySQL (机会性写回 + 定时刷盘)
// 事件: NATS (成交/强平)      归档: Kafka (已收盘K线)
//
// MySQL/NATS/Kafka 均为可选依赖，连不上只降级不拒绝启动，
// 引擎内存态始终是唯一事实源。

package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
	"tzero.com/pkg/engine"
	"tzero.com/pkg/exchange"
	"tzero.com/pkg/kafka"
	"tzero.com/pkg/market"
	"tzero.com/pkg/nats"
	"tzero.com/pkg/queue"
	"tzero.com/pkg/store"
)

// storeFlushInterval 定时刷盘间隔
const storeFlushInterval = 30 * time.Second

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	env := config.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := exchange.InitSnowflake(0); err != nil {
		log.Fatalf("[Engine] init snowflake: %v", err)
	}

	// ===== 持久层 (可选) =====
	var gs *store.GormStore
	if env.MySQLDSN != "" {
		var err error
		gs, err = store.Open(env.MySQLDSN)
		if err != nil {
			log.Printf("[Engine] mysql unavailable, running memory-only: %v", err)
			gs = nil
		}
	}

	// ===== 注册表与交易所 =====
	registry := engine.NewRegistry(env.SubscriberQueueSize)
	ex := exchange.NewPaperExchange(registry)
	if gs != nil {
		registry.SetStore(gs)
		ex.SetTradeStore(gs)
	}

	// ===== NATS 事件总线 (可选) =====
	if env.NATSURL != "" {
		pub, err := nats.NewPublisher(env.NATSURL)
		if err != nil {
			log.Printf("[Engine] nats unavailable, events disabled: %v", err)
		} else {
			defer pub.Close()
			registry.SetPublisher(pub)
			ex.SetPublisher(pub)
		}
	}

	// ===== 行情 =====
	driver := market.DriverByName(env.FeedDriver)
	if env.FeedRESTURL != "" {
		driver.RESTURL = env.FeedRESTURL
	}
	if env.FeedWSURL != "" {
		driver.WSURL = env.FeedWSURL
	}

	broadcaster := market.NewBroadcaster(env.SubscriberQueueSize)
	onPrice := func(symbol string, price decimal.Decimal) {
		if liquidated := registry.OnPriceUpdate(symbol, price); len(liquidated) > 0 {
			log.Printf("[Engine] %d portfolio(s) hit liquidation on %s @ %s", len(liquidated), symbol, price)
		}
	}

	extremes := market.NewExtremes()
	if env.FeedMode == "sim" {
		sim := market.NewSimFeed(broadcaster, time.Second, seedPrices(ctx, driver), onPrice)
		go sim.Run(ctx)
	} else {
		seedExtremes(ctx, driver, extremes)
		stream := market.NewStream(driver, broadcaster, env.FeedReconnectInterval, onPrice)
		go stream.Run(ctx)
	}

	// ===== Kafka K线归档 (可选) =====
	if env.KafkaBrokers != "" {
		producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(strings.Split(env.KafkaBrokers, ",")))
		if err != nil {
			log.Printf("[Engine] kafka unavailable, archiving disabled: %v", err)
		} else {
			defer producer.Close()
			archiver := market.NewArchiver(broadcaster, producer, "1")
			go archiver.Run(ctx, config.SupportedSymbols)
		}
	}

	// ===== 订单队列 Worker =====
	rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
	defer rdb.Close()
	worker := queue.NewWorker(rdb, ex)
	go worker.Run(ctx)

	// ===== 定时刷盘 =====
	go func() {
		ticker := time.NewTicker(storeFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if failed := registry.SyncAll(context.Background()); failed > 0 {
					log.Printf("[Engine] periodic flush: %d portfolio(s) failed", failed)
				}
			}
		}
	}()

	log.Printf("[Engine] started, feed=%s mode=%s symbols=%v", driver.Name, env.FeedMode, config.SupportedSymbols)
	<-ctx.Done()

	// 收尾: 最后一次刷盘
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	registry.SyncAll(flushCtx)

	stats := registry.GetStats()
	log.Printf("[Engine] shutdown: portfolios=%d active=%d liquidated=%d",
		stats.TotalPortfolios, stats.ActivePortfolios, stats.LiquidatedPortfolios)
}

// seedPrices 模拟行情的起始价: 优先用上游最近收盘价，拉不到用保底值
func seedPrices(ctx context.Context, driver market.Driver) map[string]float64 {
	fallback := map[string]float64{
		"BTC-USDT": 100000,
		"ETH-USDT": 3500,
	}

	rest := market.NewRESTClient(driver)
	for _, symbol := range config.SupportedSymbols {
		candles, err := rest.GetKlines(ctx, symbol, "1", 1)
		if err != nil || len(candles) == 0 {
			continue
		}
		if f, _ := candles[len(candles)-1].Close.Float64(); f > 0 {
			fallback[symbol] = f
		}
	}
	return fallback
}

// seedExtremes 启动时种子化各交易对的历史最高/最低价缓存
func seedExtremes(ctx context.Context, driver market.Driver, extremes *market.Extremes) {
	seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	extremes.Seed(seedCtx, market.NewRESTClient(driver), config.SupportedSymbols)
}
