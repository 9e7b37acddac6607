package exchange

// 文件: pkg/exchange/errors.go
// 下单错误分类
// 每个错误带一个稳定的 Kind 字符串，供队列 worker / 前端按类别处理

import (
	"errors"

	"tzero.com/pkg/engine"
)

// ===== 错误类别 =====

const (
	KindInvalidSymbol       = "INVALID_SYMBOL"       // 不在支持列表里的交易对
	KindInvalidLeverage     = "INVALID_LEVERAGE"     // 杠杆倍数不在允许档位
	KindInvalidQty          = "INVALID_QTY"          // 数量非正
	KindInvalidPrice        = "INVALID_PRICE"        // 限价单缺价格或价格非正
	KindNoPrice             = "NO_PRICE"             // 行情还没到，拿不到当前价
	KindInsufficientMargin  = "INSUFFICIENT_MARGIN"  // 可用保证金不够
	KindAccountLiquidated   = "ACCOUNT_LIQUIDATED"   // 账户已整体爆仓，只能 reset
	KindNoOpenPosition      = "NO_OPEN_POSITION"     // 平仓时没有对应持仓
	KindUnsupported         = "UNSUPPORTED"          // 订单类型不支持 (STOP 等)
	KindLimitNotQueued      = "LIMIT_NOT_QUEUED"     // 限价单未越过现价，本引擎不挂单
	KindUpstreamUnavailable = "UPSTREAM_UNAVAILABLE" // 上游行情源不可用
	KindPersistenceFailed   = "PERSISTENCE_FAILED"   // 落库失败 (仅日志，不拒单)
	KindInternal            = "INTERNAL"             // 兜底
)

// ===== 错误定义 =====

var (
	ErrInvalidQty     = errors.New("order qty must be positive")
	ErrInvalidPrice   = errors.New("limit order requires a positive price")
	ErrNoPrice        = errors.New("no market price available yet")
	ErrUnsupported    = errors.New("order type not supported")
	ErrLimitNotQueued = errors.New("limit price not crossed, order rejected")
)

// KindOf 把引擎层/交易所层错误映射为稳定的类别字符串
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrUnknownSymbol):
		return KindInvalidSymbol
	case errors.Is(err, engine.ErrInvalidLeverage):
		return KindInvalidLeverage
	case errors.Is(err, engine.ErrInsufficientMargin):
		return KindInsufficientMargin
	case errors.Is(err, engine.ErrAccountLiquidated):
		return KindAccountLiquidated
	case errors.Is(err, engine.ErrNoOpenPosition):
		return KindNoOpenPosition
	case errors.Is(err, ErrInvalidQty):
		return KindInvalidQty
	case errors.Is(err, ErrInvalidPrice):
		return KindInvalidPrice
	case errors.Is(err, ErrNoPrice):
		return KindNoPrice
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrLimitNotQueued):
		return KindLimitNotQueued
	default:
		return KindInternal
	}
}
