package market

// 文件: pkg/market/broadcaster.go
// K线扇出广播器
//
// 一条K线进来，按主题 "<symbol>:<interval>" 分发给 N 个订阅者。
// 慢订阅者直接丢包 (select default)，绝不反压上游行情流。

import (
	"sync"
)

// Broadcaster 按主题扇出K线
type Broadcaster struct {
	mu sync.Mutex

	// topic -> 订阅者通道列表
	subscribers map[string][]chan *Candle

	// topic -> 最近一条K线，新订阅者立即补发，不用干等下一根
	latest map[string]*Candle

	queueSize int
	closed    bool
}

// NewBroadcaster 创建广播器
// queueSize 为每个订阅者通道的缓冲大小
func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Broadcaster{
		subscribers: make(map[string][]chan *Candle),
		latest:      make(map[string]*Candle),
		queueSize:   queueSize,
	}
}

// Subscribe 订阅某主题的K线
// 已有缓存时立即补发最近一条
func (b *Broadcaster) Subscribe(symbol, interval string) <-chan *Candle {
	topic := symbol + ":" + interval

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Candle, b.queueSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)

	if c, ok := b.latest[topic]; ok {
		ch <- c // 缓冲通道刚建出来，必定有空间
	}
	return ch
}

// Unsubscribe 取消订阅并关闭该通道
func (b *Broadcaster) Unsubscribe(symbol, interval string, ch <-chan *Candle) {
	topic := symbol + ":" + interval

	b.mu.Lock()
	defer b.mu.Unlock()

	chans := b.subscribers[topic]
	for i, c := range chans {
		if c == ch {
			b.subscribers[topic] = append(chans[:i], chans[i+1:]...)
			close(c)
			return
		}
	}
}

// Broadcast 广播一条K线 (Hot Path)
// 通道满的订阅者直接跳过，保证隔离性
func (b *Broadcaster) Broadcast(c *Candle) {
	topic := c.Topic()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest[topic] = c

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- c:
		default:
			// 订阅者太慢，丢弃
		}
	}
}

// Latest 某主题最近一条K线，没有时返回 nil
func (b *Broadcaster) Latest(symbol, interval string) *Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest[symbol+":"+interval]
}

// SubscriberCount 某主题当前订阅者数量
func (b *Broadcaster) SubscriberCount(symbol, interval string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[symbol+":"+interval])
}

// Close 关闭广播器并关闭全部订阅者通道
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subscribers = nil
}
