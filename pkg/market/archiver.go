package market

// 文件: pkg/market/archiver.go
// K线归档器
//
// 订阅广播器，把已收盘 (confirm=true) 的K线写入 Kafka topic "market.candles"。
// 未收盘的中间态跳过，同一根K线只归档一次。

import (
	"context"
	"log"
)

const archiveTopic = "market.candles"

// CandleSink 归档出口 (pkg/kafka.Producer 实现)
type CandleSink interface {
	PublishJSON(topic, key string, v any) error
}

// Archiver K线归档器
type Archiver struct {
	broadcaster *Broadcaster
	sink        CandleSink
	interval    string

	// topic -> 最近归档的K线起始时间，防止重复归档
	lastArchived map[string]int64
}

// NewArchiver 创建归档器 (interval 为空时归档 1 分钟线)
func NewArchiver(b *Broadcaster, sink CandleSink, interval string) *Archiver {
	if interval == "" {
		interval = "1"
	}
	return &Archiver{
		broadcaster:  b,
		sink:         sink,
		interval:     interval,
		lastArchived: make(map[string]int64),
	}
}

// Run 归档指定交易对直到 ctx 取消
func (a *Archiver) Run(ctx context.Context, symbols []string) {
	chans := make([]<-chan *Candle, 0, len(symbols))
	for _, symbol := range symbols {
		chans = append(chans, a.broadcaster.Subscribe(symbol, a.interval))
	}
	defer func() {
		for i, symbol := range symbols {
			a.broadcaster.Unsubscribe(symbol, a.interval, chans[i])
		}
	}()

	log.Printf("[Archiver] archiving %v (%s) to %s", symbols, a.interval, archiveTopic)

	// 每个订阅一个搬运 goroutine，汇到同一个收集通道
	merged := make(chan *Candle, 64)
	for _, ch := range chans {
		go func(ch <-chan *Candle) {
			for c := range ch {
				select {
				case merged <- c:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-merged:
			a.archive(c)
		}
	}
}

func (a *Archiver) archive(c *Candle) {
	if !c.Confirm {
		return
	}
	topic := c.Topic()
	if a.lastArchived[topic] >= c.Start {
		return
	}
	a.lastArchived[topic] = c.Start

	if err := a.sink.PublishJSON(archiveTopic, topic, c); err != nil {
		log.Printf("[Archiver] publish %s failed: %v", topic, err)
	}
}
