// 文件: pkg/market/broadcaster_test.go
// K线扇出测试

package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandle(symbol, interval string, start int64, close string) *Candle {
	c := decimal.RequireFromString(close)
	return &Candle{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		Open:     c,
		High:     c,
		Low:      c,
		Close:    c,
		Confirm:  true,
	}
}

func TestBroadcastRoutesByTopic(t *testing.T) {
	b := NewBroadcaster(10)
	btc := b.Subscribe("BTC-USDT", "1")
	eth := b.Subscribe("ETH-USDT", "1")

	b.Broadcast(testCandle("BTC-USDT", "1", 60, "100000"))

	select {
	case c := <-btc:
		assert.Equal(t, "BTC-USDT", c.Symbol)
	default:
		t.Fatal("btc subscriber should receive the candle")
	}
	assert.Empty(t, eth)
}

func TestIntervalsAreIsolated(t *testing.T) {
	b := NewBroadcaster(10)
	m1 := b.Subscribe("BTC-USDT", "1")
	m5 := b.Subscribe("BTC-USDT", "5")

	b.Broadcast(testCandle("BTC-USDT", "5", 300, "100000"))

	assert.Empty(t, m1)
	assert.Len(t, m5, 1)
}

func TestLateSubscriberGetsLatest(t *testing.T) {
	b := NewBroadcaster(10)
	b.Broadcast(testCandle("BTC-USDT", "1", 60, "100000"))

	ch := b.Subscribe("BTC-USDT", "1")
	select {
	case c := <-ch:
		assert.Equal(t, int64(60), c.Start)
	default:
		t.Fatal("late subscriber should get the cached candle")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster(1)
	slow := b.Subscribe("BTC-USDT", "1")
	fast := b.Subscribe("BTC-USDT", "1")

	// slow 的队列容量 1: 第二条丢弃，fast 不受影响
	b.Broadcast(testCandle("BTC-USDT", "1", 60, "1"))
	<-fast
	b.Broadcast(testCandle("BTC-USDT", "1", 120, "2"))
	b.Broadcast(testCandle("BTC-USDT", "1", 180, "3"))

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 1)
	c := <-slow
	assert.Equal(t, int64(60), c.Start)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(10)
	ch := b.Subscribe("BTC-USDT", "1")
	require.Equal(t, 1, b.SubscriberCount("BTC-USDT", "1"))

	b.Unsubscribe("BTC-USDT", "1", ch)
	assert.Equal(t, 0, b.SubscriberCount("BTC-USDT", "1"))

	_, ok := <-ch
	assert.False(t, ok)
}

func TestLatest(t *testing.T) {
	b := NewBroadcaster(10)
	assert.Nil(t, b.Latest("BTC-USDT", "1"))

	b.Broadcast(testCandle("BTC-USDT", "1", 60, "100000"))
	b.Broadcast(testCandle("BTC-USDT", "1", 120, "101000"))

	latest := b.Latest("BTC-USDT", "1")
	require.NotNil(t, latest)
	assert.Equal(t, int64(120), latest.Start)
}

func TestCloseShutsAllSubscribers(t *testing.T) {
	b := NewBroadcaster(10)
	ch := b.Subscribe("BTC-USDT", "1")

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// 关闭后的操作不 panic
	b.Broadcast(testCandle("BTC-USDT", "1", 60, "1"))
	late := b.Subscribe("BTC-USDT", "1")
	_, ok = <-late
	assert.False(t, ok)
}
