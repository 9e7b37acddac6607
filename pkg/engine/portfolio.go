// 文件: pkg/engine/portfolio.go
// 用户模拟钱包 - 余额、保证金、跨持仓核算
//
// 【职责】
// 1. 余额与可用保证金核算
// 2. 手续费扣除 (开仓路径扣一次，平仓路径扣一次)
// 3. 多交易对持仓管理 (positions 对全部支持交易对稠密预建)
// 4. 强平检测与账户级强平
//
// 【并发】
// Portfolio 自身不加锁，所有访问经由 Registry 在注册表锁内串行化。

package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidLeverage    = errors.New("unsupported leverage tier")
	ErrAccountLiquidated  = errors.New("account liquidated")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrNoOpenPosition     = errors.New("no open position to close")
)

// =============================================================================
// Portfolio - 用户钱包
// =============================================================================

type Portfolio struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Balance         decimal.Decimal // 可用现金
	StartingBalance decimal.Decimal // 初始资金，不可变

	Leverage int             // 新开仓的默认杠杆
	FeeRate  decimal.Decimal // Taker 费率

	IsLiquidated bool // 账户强平后不再接单
	IsActive     bool

	// 历史最高权益水位，用于回撤统计，单调不减
	MaxEquityWatermark decimal.Decimal

	// symbol -> Position，对全部支持交易对稠密预建，查询无 nil 分支
	Positions map[string]*Position

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPortfolio 创建钱包并为全部支持交易对预建 FLAT 持仓
func NewPortfolio(userID uuid.UUID, startingBalance decimal.Decimal, leverage int) *Portfolio {
	now := time.Now().UTC()
	p := &Portfolio{
		ID:                 uuid.New(),
		UserID:             userID,
		Balance:            startingBalance,
		StartingBalance:    startingBalance,
		Leverage:           leverage,
		FeeRate:            config.FeeRate,
		IsActive:           true,
		MaxEquityWatermark: startingBalance,
		Positions:          make(map[string]*Position, len(config.SupportedSymbols)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, symbol := range config.SupportedSymbols {
		p.Positions[symbol] = NewPosition(p.ID, symbol, leverage)
	}
	return p
}

// =============================================================================
// 派生指标
// =============================================================================

// Equity 权益 = 余额 + 全部开仓持仓的未实现盈亏
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.Balance
	for _, pos := range p.Positions {
		if pos.IsOpen() {
			equity = equity.Add(pos.UnrealizedPnL)
		}
	}
	return equity
}

// TotalMarginUsed 开仓持仓占用的保证金合计
func (p *Portfolio) TotalMarginUsed() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		if pos.IsOpen() {
			total = total.Add(pos.MarginUsed())
		}
	}
	return total
}

// AvailableMargin 可用保证金 = 权益 - 已占用保证金
func (p *Portfolio) AvailableMargin() decimal.Decimal {
	return p.Equity().Sub(p.TotalMarginUsed())
}

// MarginRatio 保证金占用率 (已占用 / 权益)，权益非正时视为 100%
func (p *Portfolio) MarginRatio() decimal.Decimal {
	equity := p.Equity()
	if !equity.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return p.TotalMarginUsed().Div(equity)
}

// TotalUnrealizedPnL 全部持仓未实现盈亏合计
func (p *Portfolio) TotalUnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// TotalRealizedPnL 全部持仓已实现盈亏合计
func (p *Portfolio) TotalRealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.RealizedPnL)
	}
	return total
}

// CurrentDrawdown 距最高权益水位的回撤百分比
func (p *Portfolio) CurrentDrawdown() decimal.Decimal {
	if !p.MaxEquityWatermark.IsPositive() {
		return decimal.Zero
	}
	return p.MaxEquityWatermark.Sub(p.Equity()).
		Div(p.MaxEquityWatermark).
		Mul(decimal.NewFromInt(100))
}

// GetPosition 获取指定交易对的持仓，不支持的交易对返回 nil
func (p *Portfolio) GetPosition(symbol string) *Position {
	return p.Positions[symbol]
}

// UpdateLeverage 修改默认杠杆，只影响之后的开仓，存量持仓保留各自杠杆
func (p *Portfolio) UpdateLeverage(leverage int) {
	p.Leverage = leverage
	p.UpdatedAt = time.Now().UTC()
}

// =============================================================================
// 开仓 (BUY/SELL 非 reduce-only 路径)
// =============================================================================

// OpenPosition 按 side 方向开仓/加仓/反向减仓
//
// 【流程】
// 1. 账户已强平 → 拒绝
// 2. 保证金检查: available < required + fee → 拒绝 (恰好相等放行)
// 3. 扣一次手续费
// 4. 同向或 FLAT → Open / Increase
//    反向 → qty >= 现有持仓: 先平后用余量反向开仓; 否则只减仓
//
// 反向路径先取平仓数量和已实现盈亏，再改持仓状态，避免读到清零后的数量。
func (p *Portfolio) OpenPosition(symbol string, side Side, qty, price decimal.Decimal) (*Position, error) {
	if p.IsLiquidated {
		return nil, ErrAccountLiquidated
	}

	pos := p.Positions[symbol]
	if pos == nil {
		return nil, ErrUnknownSymbol
	}

	requiredMargin := qty.Mul(price).Div(decimal.NewFromInt(int64(p.Leverage)))
	fee := qty.Mul(price).Mul(p.FeeRate)

	if p.AvailableMargin().LessThan(requiredMargin.Add(fee)) {
		return nil, ErrInsufficientMargin
	}

	// 手续费只扣一次
	p.Balance = p.Balance.Sub(fee)

	switch {
	case !pos.IsOpen():
		if _, err := pos.Open(side, qty, price, p.Leverage); err != nil {
			return nil, err
		}

	case pos.Side == side:
		if _, err := pos.Increase(qty, price); err != nil {
			return nil, err
		}

	default:
		// 反向单: 先固定平仓数量，再动状态
		closeQty := pos.Qty
		if qty.GreaterThanOrEqual(closeQty) {
			realized := pos.Close(price)
			p.Balance = p.Balance.Add(realized)

			remaining := qty.Sub(closeQty)
			if remaining.IsPositive() {
				if _, err := pos.Open(side, remaining, price, p.Leverage); err != nil {
					return nil, err
				}
			}
		} else {
			realized, err := pos.Reduce(qty, price)
			if err != nil {
				return nil, err
			}
			p.Balance = p.Balance.Add(realized)
		}
	}

	p.updateWatermark()
	p.UpdatedAt = time.Now().UTC()
	return pos, nil
}

// =============================================================================
// 平仓 (reduce-only / 用户主动平仓)
// =============================================================================

// ClosePosition 平仓 (qty 为零表示全平，超出持仓截断)
// 返回该笔的已实现盈亏 (未扣手续费)，手续费另从余额扣除
func (p *Portfolio) ClosePosition(symbol string, qty, price decimal.Decimal) (decimal.Decimal, error) {
	pos := p.Positions[symbol]
	if pos == nil || !pos.IsOpen() {
		return decimal.Zero, ErrNoOpenPosition
	}

	if price.IsZero() {
		price = pos.CurrentPrice
	}

	closeQty := pos.Qty
	partial := qty.IsPositive() && qty.LessThan(pos.Qty)
	if partial {
		closeQty = qty
	}
	fee := closeQty.Mul(price).Mul(p.FeeRate)

	var realized decimal.Decimal
	if partial {
		var err error
		realized, err = pos.Reduce(qty, price)
		if err != nil {
			return decimal.Zero, err
		}
	} else {
		realized = pos.Close(price)
	}

	p.Balance = p.Balance.Add(realized).Sub(fee)

	p.updateWatermark()
	p.UpdatedAt = time.Now().UTC()
	return realized, nil
}

// =============================================================================
// 价格驱动重估与强平
// =============================================================================

// UpdatePrices 批量更新价格并做强平检测
// 返回被强平的交易对列表
func (p *Portfolio) UpdatePrices(prices map[string]decimal.Decimal) []string {
	var liquidated []string

	for symbol, price := range prices {
		pos := p.Positions[symbol]
		if pos == nil || !pos.IsOpen() {
			continue
		}
		pos.UpdatePrice(price)

		if pos.ShouldLiquidate() {
			p.liquidatePosition(symbol)
			liquidated = append(liquidated, symbol)
		}
	}

	p.updateWatermark()
	return liquidated
}

// liquidatePosition 强平单个持仓
//
// 持仓按强平价 (缺失时按当前价) 强制平仓，该仓位占用的保证金连同
// 未实现盈亏全部没收: Balance -= |MarginUsed + uPnL|。
// 强平路径不另收平仓手续费 (保证金罚没已覆盖)。
// 之后若余额或权益非正，账户整体强平，不再接单。
func (p *Portfolio) liquidatePosition(symbol string) {
	pos := p.Positions[symbol]
	if pos == nil {
		return
	}

	loss := pos.MarginUsed().Add(pos.UnrealizedPnL)

	closePrice := pos.LiquidationPrice
	if closePrice.IsZero() {
		closePrice = pos.CurrentPrice
	}
	pos.Close(closePrice)

	p.Balance = p.Balance.Sub(loss.Abs())

	if !p.Balance.IsPositive() || !p.Equity().IsPositive() {
		p.IsLiquidated = true
		p.IsActive = false
	}
}

// updateWatermark 更新最高权益水位 (只升不降)
func (p *Portfolio) updateWatermark() {
	if equity := p.Equity(); equity.GreaterThan(p.MaxEquityWatermark) {
		p.MaxEquityWatermark = equity
	}
}
