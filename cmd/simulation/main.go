// 文件: cmd/simulation/main.go
// 离线仿真入口
//
// 不依赖任何外部服务: GBM 模拟行情驱动引擎，几个虚拟用户随机下单，
// 周期性打印钱包状态。用于本地验证强平/保证金/手续费链路。
//
// 运行: go run ./cmd/simulation

package main

import (
	"context"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
	"tzero.com/pkg/engine"
	"tzero.com/pkg/exchange"
	"tzero.com/pkg/market"
)

const (
	numUsers      = 3
	tickInterval  = 200 * time.Millisecond
	orderInterval = 2 * time.Second
	statsInterval = 5 * time.Second
	runDuration   = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runDuration)
	defer cancel()

	registry := engine.NewRegistry(100)
	ex := exchange.NewPaperExchange(registry)

	// GBM 模拟行情直接驱动注册表重估
	broadcaster := market.NewBroadcaster(100)
	sim := market.NewSimFeed(broadcaster, tickInterval, map[string]float64{
		"BTC-USDT": 100000,
		"ETH-USDT": 3500,
	}, func(symbol string, price decimal.Decimal) {
		if liquidated := registry.OnPriceUpdate(symbol, price); len(liquidated) > 0 {
			log.Printf("[Sim] liquidation on %s @ %s: %d portfolio(s)", symbol, price, len(liquidated))
		}
	})
	go sim.Run(ctx)

	users := make([]uuid.UUID, numUsers)
	for i := range users {
		users[i] = uuid.New()
	}

	// 随机下单
	go func() {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(orderInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				userID := users[r.Intn(len(users))]
				symbol := config.SupportedSymbols[r.Intn(len(config.SupportedSymbols))]
				side := exchange.SideBuy
				if r.Intn(2) == 0 {
					side = exchange.SideSell
				}

				result := ex.SubmitOrder(ctx, userID, exchange.OrderRequest{
					Symbol:    symbol,
					Side:      side,
					OrderType: exchange.TypeMarket,
					Qty:       decimal.NewFromFloat(0.001 + r.Float64()*0.01).Round(4),
				})
				if result.Success {
					log.Printf("[Sim] user %s: %s %s %s filled @ %s", shortID(userID), side, result.FilledQty, symbol, result.FillPrice)
				} else {
					log.Printf("[Sim] user %s: order rejected (%s)", shortID(userID), result.Kind)
				}
			}
		}
	}()

	// 周期性打印钱包状态
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			printSummary(registry, users)
			return
		case <-ticker.C:
			for _, userID := range users {
				if snap := registry.SnapshotOf(userID); snap != nil {
					log.Printf("[Sim] user %s: balance=%s equity=%s margin_used=%s uPnL=%s",
						shortID(userID), snap.Balance.Round(2), snap.Equity.Round(2),
						snap.TotalMarginUsed.Round(2), snap.TotalUnrealizedPnL.Round(2))
				}
			}
		}
	}
}

func printSummary(registry *engine.Registry, users []uuid.UUID) {
	log.Printf("[Sim] ===== final summary =====")
	for _, userID := range users {
		snap := registry.SnapshotOf(userID)
		if snap == nil {
			continue
		}
		log.Printf("[Sim] user %s: equity=%s realized=%s drawdown=%s%% liquidated=%v",
			shortID(userID), snap.Equity.Round(2), snap.TotalRealizedPnL.Round(2),
			snap.CurrentDrawdown.Round(2), snap.IsLiquidated)
	}
	stats := registry.GetStats()
	log.Printf("[Sim] portfolios=%d active=%d liquidated=%d",
		stats.TotalPortfolios, stats.ActivePortfolios, stats.LiquidatedPortfolios)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
