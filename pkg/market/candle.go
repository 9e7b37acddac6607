package market

// 文件: pkg/market/candle.go
// K线数据模型与 Bybit v5 线协议类型

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candle K线
// 价格/量为 decimal 定点数，时间戳为秒
type Candle struct {
	Symbol   string          `json:"symbol"`   // 内部符号，如 BTC-USDT
	Interval string          `json:"interval"` // Bybit 周期: 1/3/5/15/30/60/120/240/D/W
	Start    int64           `json:"start"`    // K线起始时间，秒
	End      int64           `json:"end"`      // K线结束时间，秒
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Turnover decimal.Decimal `json:"turnover"`
	Confirm  bool            `json:"confirm"` // true 表示该K线已收盘
}

// Topic 广播主题: "<symbol>:<interval>"
func (c *Candle) Topic() string {
	return c.Symbol + ":" + c.Interval
}

// StartTime K线起始时间
func (c *Candle) StartTime() time.Time {
	return time.Unix(c.Start, 0).UTC()
}

// =============================================================================
// Bybit v5 WebSocket 线协议
// =============================================================================

// wsSubscribe 订阅请求帧
type wsSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// wsKlineMessage kline 推送帧
// topic 形如 "kline.5.BTCUSDT"
type wsKlineMessage struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	TS    int64         `json:"ts"`
	Data  []wsKlineData `json:"data"`

	// 订阅确认帧字段
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

type wsKlineData struct {
	Start    int64  `json:"start"` // 毫秒
	End      int64  `json:"end"`   // 毫秒
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}

// parseKlineTopic 解析 "kline.<interval>.<upstreamSymbol>"
func parseKlineTopic(topic string) (interval, upstreamSymbol string, err error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != "kline" {
		return "", "", fmt.Errorf("unexpected kline topic %q", topic)
	}
	return parts[1], parts[2], nil
}

// candleFromWS 把推送帧数据转成内部 Candle (毫秒转秒)
func candleFromWS(symbol, interval string, d wsKlineData) (*Candle, error) {
	open, err := decimal.NewFromString(d.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}
	high, err := decimal.NewFromString(d.High)
	if err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}
	low, err := decimal.NewFromString(d.Low)
	if err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}
	closeP, err := decimal.NewFromString(d.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}
	volume, err := decimal.NewFromString(d.Volume)
	if err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	turnover, err := decimal.NewFromString(d.Turnover)
	if err != nil {
		return nil, fmt.Errorf("parse turnover: %w", err)
	}

	return &Candle{
		Symbol:   symbol,
		Interval: interval,
		Start:    d.Start / 1000,
		End:      d.End / 1000,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closeP,
		Volume:   volume,
		Turnover: turnover,
		Confirm:  d.Confirm,
	}, nil
}
