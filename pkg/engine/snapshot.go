// 文件: pkg/engine/snapshot.go
// 钱包/持仓快照 DTO
//
// 推送通道与外层接口使用的只读视图。金额一律序列化为十进制字符串，
// 边界上不出现二进制浮点。

package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot 持仓快照
type PositionSnapshot struct {
	ID          string `json:"id"`
	PortfolioID string `json:"portfolio_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`

	Qty          decimal.Decimal `json:"qty"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`

	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`

	Leverage         int     `json:"leverage"`
	LiquidationPrice *string `json:"liquidation_price"` // FLAT 时为 null

	MarginUsed decimal.Decimal `json:"margin_used"`
	ROIPercent decimal.Decimal `json:"roi_percent"`
	IsOpen     bool            `json:"is_open"`
}

// PortfolioSnapshot 钱包快照
type PortfolioSnapshot struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Balance         decimal.Decimal `json:"balance"`
	Equity          decimal.Decimal `json:"equity"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
	TotalMarginUsed decimal.Decimal `json:"total_margin_used"`

	Leverage     int  `json:"leverage"`
	IsLiquidated bool `json:"is_liquidated"`
	IsActive     bool `json:"is_active"`

	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	CurrentDrawdown    decimal.Decimal `json:"current_drawdown"`

	Positions map[string]*PositionSnapshot `json:"positions"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot 生成持仓快照
func (p *Position) Snapshot() *PositionSnapshot {
	var liq *string
	if p.IsOpen() && !p.LiquidationPrice.IsZero() {
		s := p.LiquidationPrice.String()
		liq = &s
	}
	return &PositionSnapshot{
		ID:               p.ID.String(),
		PortfolioID:      p.PortfolioID.String(),
		Symbol:           p.Symbol,
		Side:             p.Side.String(),
		Qty:              p.Qty,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.CurrentPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		RealizedPnL:      p.RealizedPnL,
		Leverage:         p.Leverage,
		LiquidationPrice: liq,
		MarginUsed:       p.MarginUsed(),
		ROIPercent:       p.ROIPercent(),
		IsOpen:           p.IsOpen(),
	}
}

// Snapshot 生成钱包快照 (含全部持仓)
func (p *Portfolio) Snapshot() *PortfolioSnapshot {
	positions := make(map[string]*PositionSnapshot, len(p.Positions))
	for symbol, pos := range p.Positions {
		positions[symbol] = pos.Snapshot()
	}
	return &PortfolioSnapshot{
		ID:                 p.ID.String(),
		UserID:             p.UserID.String(),
		Balance:            p.Balance,
		Equity:             p.Equity(),
		AvailableMargin:    p.AvailableMargin(),
		TotalMarginUsed:    p.TotalMarginUsed(),
		Leverage:           p.Leverage,
		IsLiquidated:       p.IsLiquidated,
		IsActive:           p.IsActive,
		TotalUnrealizedPnL: p.TotalUnrealizedPnL(),
		TotalRealizedPnL:   p.TotalRealizedPnL(),
		CurrentDrawdown:    p.CurrentDrawdown(),
		Positions:          positions,
		UpdatedAt:          p.UpdatedAt,
	}
}
