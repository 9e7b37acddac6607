// 文件: pkg/config/config.go
// 交易配置常量
//
// 设计目标:
// 1. 编译期固定: 交易对、杠杆档位、费率不可在运行时修改
// 2. 金额精度: 全部走 decimal 定点数，禁止 float64 进入资金路径

package config

import "github.com/shopspring/decimal"

// =============================================================================
// 精度与费率
// =============================================================================

var (
	// DefaultStartingBalance 默认初始资金 10000 USDT
	DefaultStartingBalance = decimal.RequireFromString("10000.00")

	// FeeRate Taker 费率 0.06% (对标 Bybit)
	FeeRate = decimal.RequireFromString("0.0006")

	// MaintenanceMarginRate 维持保证金率 0.5%
	MaintenanceMarginRate = decimal.RequireFromString("0.005")
)

// =============================================================================
// 交易对
// =============================================================================

// SupportedSymbols 支持的交易对 (内部格式)
var SupportedSymbols = []string{"BTC-USDT", "ETH-USDT"}

// IsSupportedSymbol 是否为支持的交易对
func IsSupportedSymbol(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ToUpstreamSymbol 内部格式转上游格式
// "BTC-USDT" -> "BTCUSDT"
func ToUpstreamSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '-' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}

// FromUpstreamSymbol 上游格式转内部格式
// "BTCUSDT" -> "BTC-USDT"
func FromUpstreamSymbol(symbol string) string {
	const quote = "USDT"
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)] + "-" + quote
	}
	return symbol
}

// =============================================================================
// 杠杆
// =============================================================================

const (
	// DefaultLeverage 新账户默认杠杆
	DefaultLeverage = 10
)

// SupportedLeverage 支持的杠杆档位
var SupportedLeverage = []int{2, 5, 10, 15, 20, 25}

// IsSupportedLeverage 是否为支持的杠杆档位
func IsSupportedLeverage(leverage int) bool {
	for _, l := range SupportedLeverage {
		if l == leverage {
			return true
		}
	}
	return false
}

// =============================================================================
// K 线周期
// =============================================================================

// SupportedIntervals 支持的 K 线周期 (上游命名)
var SupportedIntervals = []string{"1", "3", "5", "15", "30", "60", "120", "240", "D", "W"}

// IsSupportedInterval 是否为支持的周期
func IsSupportedInterval(interval string) bool {
	for _, iv := range SupportedIntervals {
		if iv == interval {
			return true
		}
	}
	return false
}
