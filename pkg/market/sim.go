package market

// 文件: pkg/market/sim.go
// 离线模拟行情源
//
// 上游不可达或本地联调时的替代行情: 用几何布朗运动 (GBM) 生成价格，
// 合成 1 分钟K线走同一个广播器/回调通路，引擎无感知。

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

// SimFeed 模拟行情源
type SimFeed struct {
	broadcaster *Broadcaster
	onPrice     PriceHandler
	interval    time.Duration

	// symbol -> 当前价 (float64 仅用于 GBM 采样，出口统一转 decimal)
	prices     map[string]float64
	volatility float64
}

// NewSimFeed 创建模拟行情源
// startPrices 缺失的交易对不生成行情
func NewSimFeed(b *Broadcaster, interval time.Duration, startPrices map[string]float64, onPrice PriceHandler) *SimFeed {
	if interval <= 0 {
		interval = time.Second
	}
	prices := make(map[string]float64, len(startPrices))
	for _, symbol := range config.SupportedSymbols {
		if p, ok := startPrices[symbol]; ok && p > 0 {
			prices[symbol] = p
		}
	}
	return &SimFeed{
		broadcaster: b,
		onPrice:     onPrice,
		interval:    interval,
		prices:      prices,
		volatility:  0.5, // 年化波动率 50%，加密资产典型值
	}
}

// Run 生成行情直到 ctx 取消
func (f *SimFeed) Run(ctx context.Context) {
	log.Printf("[SimFeed] generating synthetic candles every %s for %d symbols", f.interval, len(f.prices))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// 独立随机源，避开全局 rand 的锁
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			// GBM: S_new = S * exp(-0.5*σ²*dt + σ*sqrt(dt)*Z)，无漂移
			dt := now.Sub(last).Hours() / 24 / 365
			if dt <= 0 {
				dt = 1e-9
			}
			last = now

			for symbol, price := range f.prices {
				sigma := f.volatility
				z := r.NormFloat64()
				next := price * math.Exp(-0.5*sigma*sigma*dt+sigma*math.Sqrt(dt)*z)
				f.prices[symbol] = next

				f.emit(symbol, price, next, now)
			}
		}
	}
}

// emit 把一步价格包装成已收盘的 1 分钟K线
func (f *SimFeed) emit(symbol string, open, close float64, now time.Time) {
	openD := decimal.NewFromFloat(open)
	closeD := decimal.NewFromFloat(close)
	high := decimal.Max(openD, closeD)
	low := decimal.Min(openD, closeD)

	candle := &Candle{
		Symbol:   symbol,
		Interval: "1",
		Start:    now.Truncate(time.Minute).Unix(),
		End:      now.Truncate(time.Minute).Add(time.Minute).Unix(),
		Open:     openD,
		High:     high,
		Low:      low,
		Close:    closeD,
		Volume:   decimal.Zero,
		Turnover: decimal.Zero,
		Confirm:  true,
	}

	if f.broadcaster != nil {
		f.broadcaster.Broadcast(candle)
	}
	if f.onPrice != nil {
		f.onPrice(symbol, closeD)
	}
}
