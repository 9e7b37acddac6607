package market

// 文件: pkg/market/stream.go
// Bybit v5 公共行情 WebSocket 客户端
//
// 【职责】
// 1. 连接上游并按 "kline.<interval>.<symbol>" 订阅K线
// 2. 推送帧转内部 Candle 后交给广播器扇出
// 3. 每根K线的收盘价回调给价格处理器 (驱动钱包重估)
// 4. 断线按固定间隔重连并恢复全部订阅
//
// 使用开源库: github.com/gorilla/websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

// Bybit 要求 20 秒内至少一次应用层心跳
const heartbeatInterval = 20 * time.Second

// PriceHandler 收盘价回调 (symbol 为内部符号)
type PriceHandler func(symbol string, price decimal.Decimal)

// Stream 上游行情流
type Stream struct {
	driver            Driver
	broadcaster       *Broadcaster
	onPrice           PriceHandler
	reconnectInterval time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{} // 已订阅的上游主题，重连后恢复
}

// NewStream 创建行情流
// onPrice 可以为 nil (只广播K线，不驱动重估)
func NewStream(driver Driver, b *Broadcaster, reconnectInterval time.Duration, onPrice PriceHandler) *Stream {
	if reconnectInterval <= 0 {
		reconnectInterval = 5 * time.Second
	}
	return &Stream{
		driver:            driver,
		broadcaster:       b,
		onPrice:           onPrice,
		reconnectInterval: reconnectInterval,
		topics:            make(map[string]struct{}),
	}
}

// Broadcaster 返回挂在流上的广播器
func (s *Stream) Broadcaster() *Broadcaster { return s.broadcaster }

// Run 维持连接直到 ctx 取消
// 每次断开后等待 reconnectInterval 再重连并恢复订阅
func (s *Stream) Run(ctx context.Context) {
	// 默认订阅: 全部支持交易对的 1 分钟K线
	for _, symbol := range config.SupportedSymbols {
		s.addTopic(symbol, "1")
	}

	for {
		if err := s.connectAndRead(ctx); err != nil {
			log.Printf("[MarketStream] connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectInterval):
			log.Printf("[MarketStream] reconnecting to %s ...", s.driver.WSURL)
		}
	}
}

// Subscribe 增加一个订阅主题 (立刻下发，连接断开时留待重连后恢复)
func (s *Stream) Subscribe(symbol, interval string) error {
	if !config.IsSupportedSymbol(symbol) {
		return ErrUnknownStreamSymbol
	}
	if !config.IsSupportedInterval(interval) {
		return ErrUnknownStreamInterval
	}
	topic := s.addTopic(symbol, interval)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.sendSubscribe(conn, []string{topic})
}

func (s *Stream) addTopic(symbol, interval string) string {
	topic := "kline." + interval + "." + config.ToUpstreamSymbol(symbol)
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
	return topic
}

// connectAndRead 单次连接的完整生命周期
func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.driver.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[MarketStream] connected to %s", s.driver.WSURL)

	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := s.sendSubscribe(conn, topics); err != nil {
		return err
	}

	// 心跳与取消监听
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.writeJSON(conn, wsSubscribe{Op: "ping"})
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handleMessage(raw)
	}
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	log.Printf("[MarketStream] subscribing: %v", topics)
	return s.writeJSON(conn, wsSubscribe{Op: "subscribe", Args: topics})
}

// writeJSON 串行化写 (gorilla 连接只允许一个并发写者)
func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteJSON(v)
}

// handleMessage 处理一帧上游消息
// 订阅确认 / 心跳响应 / 未知主题直接忽略
func (s *Stream) handleMessage(raw []byte) {
	var msg wsKlineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[MarketStream] bad frame: %v", err)
		return
	}
	if msg.Topic == "" {
		if msg.Op == "subscribe" && !msg.Success {
			log.Printf("[MarketStream] subscribe rejected: %s", msg.RetMsg)
		}
		return
	}
	if len(msg.Data) == 0 {
		return
	}

	interval, upstream, err := parseKlineTopic(msg.Topic)
	if err != nil {
		return
	}
	symbol := config.FromUpstreamSymbol(upstream)
	if !config.IsSupportedSymbol(symbol) {
		return
	}

	for _, d := range msg.Data {
		candle, err := candleFromWS(symbol, interval, d)
		if err != nil {
			log.Printf("[MarketStream] bad kline on %s: %v", msg.Topic, err)
			continue
		}
		if s.broadcaster != nil {
			s.broadcaster.Broadcast(candle)
		}
		if s.onPrice != nil && candle.Close.IsPositive() {
			s.onPrice(symbol, candle.Close)
		}
	}
}
