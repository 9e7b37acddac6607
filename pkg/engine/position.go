// 文件: pkg/engine/position.go
// 单交易对持仓状态机
//
// 【关键概念区分】
// - 未实现盈亏 (uPnL): 随价格实时变化，每次价格/数量变更后重算，不存DB
// - 已实现盈亏 (RealizedPnL): 只有平仓/减仓时才产生，累计
//
// 【不变量】
// - FLAT ⇔ Qty = 0；FLAT 时 EntryPrice = 0、uPnL = 0、无强平价
// - 持仓期间强平价始终有效 (Bybit 线性合约公式)
// - uPnL = (CurrentPrice − EntryPrice) · Qty，空头取反

package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

var (
	ErrPositionOpen = errors.New("position already open")
	ErrPositionFlat = errors.New("no open position")
)

// =============================================================================
// 持仓方向
// =============================================================================

type Side int8

const (
	SideFlat  Side = 0  // 无持仓
	SideLong  Side = 1  // 多头
	SideShort Side = -1 // 空头
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	}
	return "FLAT"
}

// =============================================================================
// Position - 用户在某交易对上的模拟持仓
// =============================================================================

// Position 单交易对持仓
// 全部金额字段为 decimal 定点数，资金路径禁止二进制浮点
type Position struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Symbol      string

	Side       Side
	Qty        decimal.Decimal // 始终 >= 0，方向由 Side 表达
	EntryPrice decimal.Decimal // 开仓均价

	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal // 累计，存DB

	Leverage         int             // 本笔持仓的杠杆，开仓时固定
	LiquidationPrice decimal.Decimal // FLAT 时为零值

	OpenedAt time.Time
}

// NewPosition 创建 FLAT 持仓
func NewPosition(portfolioID uuid.UUID, symbol string, leverage int) *Position {
	return &Position{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        SideFlat,
		Leverage:    leverage,
	}
}

// IsOpen 是否有持仓
func (p *Position) IsOpen() bool {
	return p.Side != SideFlat && p.Qty.IsPositive()
}

// IsLong 是否多头
func (p *Position) IsLong() bool { return p.Side == SideLong }

// IsShort 是否空头
func (p *Position) IsShort() bool { return p.Side == SideShort }

// Value 按当前价计算的仓位价值
func (p *Position) Value() decimal.Decimal {
	return p.Qty.Mul(p.CurrentPrice)
}

// MarginUsed 初始保证金 = |Qty| * EntryPrice / Leverage
func (p *Position) MarginUsed() decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}
	return p.Qty.Mul(p.EntryPrice).Div(decimal.NewFromInt(int64(p.Leverage)))
}

// ROIPercent 保证金收益率 (uPnL / 保证金 * 100)
func (p *Position) ROIPercent() decimal.Decimal {
	margin := p.MarginUsed()
	if !margin.IsPositive() {
		return decimal.Zero
	}
	return p.UnrealizedPnL.Div(margin).Mul(decimal.NewFromInt(100))
}

// =============================================================================
// 价格更新
// =============================================================================

// UpdatePrice 更新当前价并重算 uPnL
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
	p.recalcPnL()
}

// recalcPnL uPnL = (CurrentPrice - EntryPrice) * Qty，空头取反
func (p *Position) recalcPnL() {
	if !p.IsOpen() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.IsShort() {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Qty)
}

// =============================================================================
// 开仓 / 加仓 / 减仓 / 平仓
// =============================================================================

// Open 开新仓
// 前置条件: 当前 FLAT、side 非 FLAT、qty > 0
// 返回占用的初始保证金
func (p *Position) Open(side Side, qty, price decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if p.IsOpen() {
		return decimal.Zero, ErrPositionOpen
	}

	p.Side = side
	p.Qty = qty
	p.EntryPrice = price
	p.CurrentPrice = price
	p.Leverage = leverage
	p.OpenedAt = time.Now().UTC()

	p.recalcLiquidationPrice()
	p.recalcPnL()

	return p.MarginUsed(), nil
}

// Increase 同向加仓
// 新开仓均价为数量加权均值: (Qty0*Entry0 + Qty*Price) / (Qty0+Qty)
// 返回新增保证金 qty*price/leverage
func (p *Position) Increase(qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsOpen() {
		return decimal.Zero, ErrPositionFlat
	}

	totalValue := p.Qty.Mul(p.EntryPrice).Add(qty.Mul(price))
	newQty := p.Qty.Add(qty)
	p.EntryPrice = totalValue.Div(newQty)
	p.Qty = newQty

	p.recalcLiquidationPrice()
	p.recalcPnL()

	return qty.Mul(price).Div(decimal.NewFromInt(int64(p.Leverage))), nil
}

// Reduce 减仓 (部分平仓)
// 超出持仓数量的部分截断到持仓数量，数量归零时转 FLAT
// 返回该部分的已实现盈亏
func (p *Position) Reduce(qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsOpen() {
		return decimal.Zero, ErrPositionFlat
	}

	if qty.GreaterThan(p.Qty) {
		qty = p.Qty
	}

	diff := price.Sub(p.EntryPrice)
	if p.IsShort() {
		diff = diff.Neg()
	}
	portionPnL := diff.Mul(qty)

	p.Qty = p.Qty.Sub(qty)
	p.RealizedPnL = p.RealizedPnL.Add(portionPnL)

	if !p.Qty.IsPositive() {
		// 剩余数量为零: 直接收尾转 FLAT (盈亏已在上面结清)
		p.resetToFlat()
		return portionPnL, nil
	}

	p.recalcPnL()
	return portionPnL, nil
}

// Close 全部平仓
// 返回剩余数量的已实现盈亏，FLAT 时返回零
func (p *Position) Close(price decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}

	diff := price.Sub(p.EntryPrice)
	if p.IsShort() {
		diff = diff.Neg()
	}
	finalPnL := diff.Mul(p.Qty)
	p.RealizedPnL = p.RealizedPnL.Add(finalPnL)

	p.resetToFlat()
	return finalPnL
}

// resetToFlat 清空持仓字段，保持不变量
func (p *Position) resetToFlat() {
	p.Qty = decimal.Zero
	p.Side = SideFlat
	p.EntryPrice = decimal.Zero
	p.UnrealizedPnL = decimal.Zero
	p.LiquidationPrice = decimal.Zero
}

// =============================================================================
// 强平
// =============================================================================

// recalcLiquidationPrice 强平价 (Bybit 线性合约公式)
//
// 多头: Liq = Entry * (1 - 1/Leverage + MMR)
// 空头: Liq = Entry * (1 + 1/Leverage - MMR)
func (p *Position) recalcLiquidationPrice() {
	if !p.IsOpen() {
		p.LiquidationPrice = decimal.Zero
		return
	}

	one := decimal.NewFromInt(1)
	imr := one.Div(decimal.NewFromInt(int64(p.Leverage)))
	mmr := config.MaintenanceMarginRate

	if p.IsLong() {
		p.LiquidationPrice = p.EntryPrice.Mul(one.Sub(imr).Add(mmr))
	} else {
		p.LiquidationPrice = p.EntryPrice.Mul(one.Add(imr).Sub(mmr))
	}
}

// ShouldLiquidate 当前价是否触发强平
// 多头: CurrentPrice <= LiquidationPrice；空头: CurrentPrice >= LiquidationPrice
// 只读，幂等
func (p *Position) ShouldLiquidate() bool {
	if !p.IsOpen() || p.LiquidationPrice.IsZero() {
		return false
	}
	if p.IsLong() {
		return p.CurrentPrice.LessThanOrEqual(p.LiquidationPrice)
	}
	return p.CurrentPrice.GreaterThanOrEqual(p.LiquidationPrice)
}
