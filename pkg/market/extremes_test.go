// 文件: pkg/market/extremes_test.go
// ATH/ATL 缓存测试

package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtremesSeedAndGet(t *testing.T) {
	var requests []string
	srv := fakeBybit(t, &requests)
	defer srv.Close()

	e := NewExtremes()
	seeded := e.Seed(context.Background(), testClient(srv.URL), []string{"BTC-USDT"})
	assert.Equal(t, 1, seeded)

	info := e.Get("BTC-USDT")
	require.NotNil(t, info)
	assert.Equal(t, "BTC-USDT", info.Symbol)
	assert.True(t, info.ATH.GreaterThanOrEqual(info.ATL))

	// 未种子化的交易对返回 nil
	assert.Nil(t, e.Get("ETH-USDT"))
}

func TestExtremesSeedFailureLeavesNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewExtremes()
	seeded := e.Seed(context.Background(), testClient(srv.URL), []string{"BTC-USDT"})
	assert.Equal(t, 0, seeded)
	assert.Nil(t, e.Get("BTC-USDT"))
}
