// 文件: pkg/config/config_test.go

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToUpstreamSymbol("BTC-USDT"))
	assert.Equal(t, "BTC-USDT", FromUpstreamSymbol("BTCUSDT"))
	// 往返一致
	for _, s := range SupportedSymbols {
		assert.Equal(t, s, FromUpstreamSymbol(ToUpstreamSymbol(s)))
	}
}

func TestIsSupportedSymbol(t *testing.T) {
	assert.True(t, IsSupportedSymbol("BTC-USDT"))
	assert.True(t, IsSupportedSymbol("ETH-USDT"))
	assert.False(t, IsSupportedSymbol("BTCUSDT")) // 上游格式不直接支持
	assert.False(t, IsSupportedSymbol("DOGE-USDT"))
}

func TestLeverageTiers(t *testing.T) {
	for _, l := range SupportedLeverage {
		assert.True(t, IsSupportedLeverage(l))
	}
	assert.False(t, IsSupportedLeverage(0))
	assert.False(t, IsSupportedLeverage(7))
	assert.False(t, IsSupportedLeverage(100))
	assert.True(t, IsSupportedLeverage(DefaultLeverage))
}

func TestIntervals(t *testing.T) {
	assert.True(t, IsSupportedInterval("1"))
	assert.True(t, IsSupportedInterval("D"))
	assert.False(t, IsSupportedInterval("2"))
	assert.False(t, IsSupportedInterval(""))
}

func TestFeeAndMarginConstants(t *testing.T) {
	// 0.1 BTC @ 100000 -> 手续费 6
	fee := DefaultStartingBalance.Mul(FeeRate)
	assert.Equal(t, "6", fee.String())
	assert.Equal(t, "0.005", MaintenanceMarginRate.String())
}
