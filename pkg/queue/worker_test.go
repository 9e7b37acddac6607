// 文件: pkg/queue/worker_test.go
// 订单信封解析与执行测试 (不依赖 Redis)

package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tzero.com/pkg/engine"
	"tzero.com/pkg/exchange"
)

func newTestWorker(t *testing.T) (*Worker, *engine.Registry) {
	t.Helper()
	registry := engine.NewRegistry(10)
	registry.OnPriceUpdate("BTC-USDT", decimal.RequireFromString("100000"))
	ex := exchange.NewPaperExchange(registry)
	return NewWorker(nil, ex), registry
}

func TestProcessExecutesOrder(t *testing.T) {
	w, registry := newTestWorker(t)
	userID := uuid.New()

	w.process(context.Background(), []byte(`{
		"user_id": "`+userID.String()+`",
		"order": {
			"symbol": "BTC-USDT",
			"side": "BUY",
			"order_type": "MARKET",
			"qty": "0.1",
			"leverage": 20
		}
	}`))

	p := registry.Get(userID)
	require.NotNil(t, p)
	pos := p.GetPosition("BTC-USDT")
	assert.True(t, pos.IsOpen())
	assert.True(t, pos.Qty.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 20, pos.Leverage)
	// 手续费 6 已扣
	assert.True(t, p.Balance.Equal(decimal.RequireFromString("9994")))
}

func TestProcessReduceOnlyEnvelope(t *testing.T) {
	w, registry := newTestWorker(t)
	userID := uuid.New()

	open := `{"user_id":"` + userID.String() + `","order":{"symbol":"BTC-USDT","side":"SELL","order_type":"MARKET","qty":"0.1"}}`
	w.process(context.Background(), []byte(open))
	closeMsg := `{"user_id":"` + userID.String() + `","order":{"symbol":"BTC-USDT","side":"BUY","order_type":"MARKET","qty":"0.1","reduce_only":true}}`
	w.process(context.Background(), []byte(closeMsg))

	p := registry.Get(userID)
	require.NotNil(t, p)
	assert.False(t, p.GetPosition("BTC-USDT").IsOpen())
}

// 脏数据只跳过，不影响后续消息
func TestProcessToleratesBadPayloads(t *testing.T) {
	w, registry := newTestWorker(t)

	w.process(context.Background(), []byte(`not json`))
	w.process(context.Background(), []byte(`{}`))
	w.process(context.Background(), []byte(`{"user_id":"","order":null}`))
	w.process(context.Background(), []byte(`{"user_id":"not-a-uuid","order":{"symbol":"BTC-USDT","side":"BUY","order_type":"MARKET","qty":"1"}}`))

	// 队列信封缺 order 字段: 不创建任何钱包
	assert.Equal(t, 0, registry.GetStats().TotalPortfolios)

	// 正常消息仍被处理
	userID := uuid.New()
	w.process(context.Background(), []byte(`{"user_id":"`+userID.String()+`","order":{"symbol":"BTC-USDT","side":"BUY","order_type":"MARKET","qty":"0.01"}}`))
	assert.NotNil(t, registry.Get(userID))
}

// 拒单也会创建钱包 (get-or-create 语义)，但不改变余额
func TestProcessRejectedOrderLeavesBalance(t *testing.T) {
	w, registry := newTestWorker(t)
	userID := uuid.New()

	w.process(context.Background(), []byte(`{"user_id":"`+userID.String()+`","order":{"symbol":"BTC-USDT","side":"BUY","order_type":"STOP","qty":"0.1"}}`))

	p := registry.Get(userID)
	require.NotNil(t, p)
	assert.True(t, p.Balance.Equal(decimal.RequireFromString("10000")))
}
