package exchange

// 文件: pkg/exchange/paper.go
// 模拟交易所 - 订单执行管线
//
// 【管线】
// 校验 -> 取/建钱包 -> 杠杆覆写 -> 取现价 -> 按订单类型成交 -> 落库 -> 广播
//
// 成交全程在注册表锁内执行 (Registry.Execute)，与价格重估串行，
// 任何观察者看不到半更新的余额/持仓。
// 落库与事件发布在锁外，失败只记日志，永不拒单。

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
	"tzero.com/pkg/engine"
	"tzero.com/pkg/store"
)

// ===== 订单类型 =====

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
	TypeStop   = "STOP"

	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
)

// OrderRequest 下单请求 (与队列信封里的 order 字段一致)
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`       // BUY / SELL
	OrderType  string          `json:"order_type"` // MARKET / LIMIT / STOP
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price,omitempty"` // 限价单价格，零值表示未给
	ReduceOnly bool            `json:"reduce_only,omitempty"`
	Leverage   int             `json:"leverage,omitempty"` // 非零时覆写默认杠杆
}

// OrderResult 下单结果
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id,omitempty"`
	Kind    string `json:"error_kind,omitempty"`
	Message string `json:"message,omitempty"`

	FilledQty   decimal.Decimal `json:"filled_qty"`
	FillPrice   decimal.Decimal `json:"fill_price"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`

	Position  *engine.PositionSnapshot  `json:"position,omitempty"`
	Portfolio *engine.PortfolioSnapshot `json:"portfolio,omitempty"`
}

// TradeStore 成交落库接口 (订单 + 交易日志)
type TradeStore interface {
	SaveOrder(ctx context.Context, o *store.OrderRecord) error
	SaveJournalEntry(ctx context.Context, j *store.JournalEntry) error
}

// =============================================================================
// PaperExchange
// =============================================================================

// PaperExchange 模拟交易所
// 订单立即按最新行情价成交，不维护订单簿
type PaperExchange struct {
	registry  *engine.Registry
	trades    TradeStore            // 可选
	publisher engine.EventPublisher // 可选
}

// NewPaperExchange 创建模拟交易所
func NewPaperExchange(registry *engine.Registry) *PaperExchange {
	return &PaperExchange{registry: registry}
}

// SetTradeStore 注入成交落库 (可选)
func (e *PaperExchange) SetTradeStore(ts TradeStore) { e.trades = ts }

// SetPublisher 注入事件发布器 (可选)
func (e *PaperExchange) SetPublisher(pub engine.EventPublisher) { e.publisher = pub }

// fill 锁内执行的成交结果，落库所需字段全部在锁内固定
type fill struct {
	fillPrice decimal.Decimal
	filledQty decimal.Decimal
	fee       decimal.Decimal

	closed     bool // 本次成交平掉/减掉了持仓
	closedQty  decimal.Decimal
	closedSide engine.Side
	entryPrice decimal.Decimal
	leverage   int
	openedAt   time.Time
	realized   decimal.Decimal

	portfolioID string
	snapshot    *engine.PositionSnapshot
	portfolio   *engine.PortfolioSnapshot
}

// =============================================================================
// 下单
// =============================================================================

// SubmitOrder 执行一笔订单
//
// 【订单类型】
// - MARKET: 按最新行情价立即成交
// - LIMIT:  已越过现价 (BUY 限价 >= 现价 / SELL 限价 <= 现价) 立即成交，
//           否则直接拒绝，本引擎不维护挂单簿
// - STOP:   不支持
func (e *PaperExchange) SubmitOrder(ctx context.Context, userID uuid.UUID, req OrderRequest) *OrderResult {
	if !config.IsSupportedSymbol(req.Symbol) {
		return reject(engine.ErrUnknownSymbol, "symbol not supported: "+req.Symbol)
	}
	if !req.Qty.IsPositive() {
		return reject(ErrInvalidQty, "qty must be positive")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return reject(ErrUnsupported, "unknown side: "+req.Side)
	}

	var f fill
	err := e.registry.ExecuteOrder(userID, req.Symbol, config.DefaultStartingBalance, config.DefaultLeverage, func(p *engine.Portfolio, current decimal.Decimal) error {
		if p.IsLiquidated {
			return engine.ErrAccountLiquidated
		}

		if req.Leverage != 0 {
			if !config.IsSupportedLeverage(req.Leverage) {
				return engine.ErrInvalidLeverage
			}
			p.UpdateLeverage(req.Leverage)
		}

		pos := p.GetPosition(req.Symbol)
		if !current.IsPositive() {
			return ErrNoPrice
		}

		fillPrice := current
		switch req.OrderType {
		case TypeMarket:
			// 按现价成交

		case TypeLimit:
			if !req.Price.IsPositive() {
				return ErrInvalidPrice
			}
			// BUY 限价低于现价 / SELL 限价高于现价: 未越过，拒绝
			if req.Side == SideBuy && current.GreaterThan(req.Price) {
				return ErrLimitNotQueued
			}
			if req.Side == SideSell && current.LessThan(req.Price) {
				return ErrLimitNotQueued
			}
			// 越过时按对用户更优的一侧成交
			if req.Side == SideBuy {
				fillPrice = decimal.Min(current, req.Price)
			} else {
				fillPrice = decimal.Max(current, req.Price)
			}

		default:
			return ErrUnsupported
		}

		// 平仓/减仓信息在变更前固定 (成交后持仓字段可能已清零)
		side := sideFromOrder(req.Side)
		willClose := pos.IsOpen() && (req.ReduceOnly || pos.Side != side)
		if willClose {
			f.closedSide = pos.Side
			f.entryPrice = pos.EntryPrice
			f.leverage = pos.Leverage
			f.openedAt = pos.OpenedAt
			f.closedQty = decimal.Min(req.Qty, pos.Qty)
		}
		prevRealized := pos.RealizedPnL

		if req.ReduceOnly {
			if !pos.IsOpen() {
				return engine.ErrNoOpenPosition
			}
			realized, err := p.ClosePosition(req.Symbol, req.Qty, fillPrice)
			if err != nil {
				return err
			}
			f.filledQty = f.closedQty
			f.realized = realized
			f.closed = true
		} else {
			if _, err := p.OpenPosition(req.Symbol, side, req.Qty, fillPrice); err != nil {
				return err
			}
			f.filledQty = req.Qty
			if willClose {
				f.realized = pos.RealizedPnL.Sub(prevRealized)
				f.closed = true
			}
		}

		f.fillPrice = fillPrice
		f.fee = f.filledQty.Mul(fillPrice).Mul(p.FeeRate)
		f.portfolioID = p.ID.String()
		f.snapshot = pos.Snapshot()
		f.portfolio = p.Snapshot()
		return nil
	})
	if err != nil {
		return reject(err, err.Error())
	}

	orderID := NextID()
	e.persistFill(ctx, orderID, req, &f)
	e.publishFill(userID, orderID, req, &f)

	e.registry.NotifyUpdate(userID)
	go func() {
		if err := e.registry.SyncToStore(context.Background(), userID); err != nil {
			log.Printf("[PaperExchange] async sync failed for user %s: %v", userID, err)
		}
	}()

	return &OrderResult{
		Success:     true,
		OrderID:     orderID,
		FilledQty:   f.filledQty,
		FillPrice:   f.fillPrice,
		Fee:         f.fee,
		RealizedPnL: f.realized,
		Position:    f.snapshot,
		Portfolio:   f.portfolio,
	}
}

// ClosePosition 全平/部分平仓的便捷入口 (qty 为零表示全平)
func (e *PaperExchange) ClosePosition(ctx context.Context, userID uuid.UUID, symbol string, qty decimal.Decimal) *OrderResult {
	if !config.IsSupportedSymbol(symbol) {
		return reject(engine.ErrUnknownSymbol, "symbol not supported: "+symbol)
	}

	// reduce-only 方向与现有持仓相反，读快照避免与价格重估竞态
	side := SideSell
	snap := e.registry.SnapshotOf(userID)
	if snap == nil {
		return reject(engine.ErrNoOpenPosition, "no open position for "+symbol)
	}
	pos, ok := snap.Positions[symbol]
	if !ok || !pos.IsOpen {
		return reject(engine.ErrNoOpenPosition, "no open position for "+symbol)
	}
	if pos.Side == "SHORT" {
		side = SideBuy
	}
	if !qty.IsPositive() {
		qty = pos.Qty
	}

	return e.SubmitOrder(ctx, userID, OrderRequest{
		Symbol:     symbol,
		Side:       side,
		OrderType:  TypeMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
}

// UpdateLeverage 修改钱包默认杠杆，只影响之后的开仓
func (e *PaperExchange) UpdateLeverage(ctx context.Context, userID uuid.UUID, leverage int) error {
	if !config.IsSupportedLeverage(leverage) {
		return engine.ErrInvalidLeverage
	}

	err := e.registry.Execute(userID, config.DefaultStartingBalance, config.DefaultLeverage, func(p *engine.Portfolio) error {
		if p.IsLiquidated {
			return engine.ErrAccountLiquidated
		}
		p.UpdateLeverage(leverage)
		return nil
	})
	if err != nil {
		return err
	}

	e.registry.NotifyUpdate(userID)
	go func() {
		if err := e.registry.SyncToStore(context.Background(), userID); err != nil {
			log.Printf("[PaperExchange] async sync failed for user %s: %v", userID, err)
		}
	}()
	return nil
}

// =============================================================================
// 落库与事件
// =============================================================================

// persistFill 成交落库: 订单一条，含平仓时再写一条交易日志
// 失败只记日志，资金状态以内存为准
func (e *PaperExchange) persistFill(ctx context.Context, orderID int64, req OrderRequest, f *fill) {
	if e.trades == nil {
		return
	}

	now := time.Now().UTC()
	order := &store.OrderRecord{
		ID:           orderID,
		PortfolioID:  f.portfolioID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrderType:    req.OrderType,
		Qty:          req.Qty,
		FilledQty:    f.filledQty,
		AvgFillPrice: decimal.NewNullDecimal(f.fillPrice),
		Status:       StatusFilled,
		ReduceOnly:   req.ReduceOnly,
		Fee:          f.fee,
		FilledAt:     &now,
	}
	if req.OrderType == TypeLimit {
		order.Price = decimal.NewNullDecimal(req.Price)
	}
	if f.closed {
		order.RealizedPnL = decimal.NewNullDecimal(f.realized)
	}
	if err := e.trades.SaveOrder(ctx, order); err != nil {
		log.Printf("[PaperExchange] save order %d failed: %v", orderID, err)
	}

	if !f.closed || !f.closedQty.IsPositive() {
		return
	}

	// 收益率相对该笔占用的保证金
	margin := f.closedQty.Mul(f.entryPrice).Div(decimal.NewFromInt(int64(f.leverage)))
	pnlPercent := decimal.Zero
	if margin.IsPositive() {
		pnlPercent = f.realized.Div(margin).Mul(decimal.NewFromInt(100))
	}
	entry := &store.JournalEntry{
		ID:          NextID(),
		PortfolioID: f.portfolioID,
		Symbol:      req.Symbol,
		Side:        f.closedSide.String(),
		EntryPrice:  f.entryPrice,
		ExitPrice:   f.fillPrice,
		Qty:         f.closedQty,
		PnL:         f.realized,
		PnLPercent:  pnlPercent,
		EntryTime:   f.openedAt,
		ExitTime:    now,
	}
	if err := e.trades.SaveJournalEntry(ctx, entry); err != nil {
		log.Printf("[PaperExchange] save journal entry for order %d failed: %v", orderID, err)
	}
}

// FillEvent 成交事件 (NATS engine.fill)
type FillEvent struct {
	UserID      string          `json:"user_id"`
	OrderID     int64           `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	OrderType   string          `json:"order_type"`
	Qty         decimal.Decimal `json:"qty"`
	FillPrice   decimal.Decimal `json:"fill_price"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ReduceOnly  bool            `json:"reduce_only"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (e *PaperExchange) publishFill(userID uuid.UUID, orderID int64, req OrderRequest, f *fill) {
	if e.publisher == nil {
		return
	}
	ev := FillEvent{
		UserID:      userID.String(),
		OrderID:     orderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   req.OrderType,
		Qty:         f.filledQty,
		FillPrice:   f.fillPrice,
		Fee:         f.fee,
		RealizedPnL: f.realized,
		ReduceOnly:  req.ReduceOnly,
		Timestamp:   time.Now().UTC(),
	}
	if err := e.publisher.Publish("engine.fill", ev); err != nil {
		log.Printf("[PaperExchange] publish fill event failed: %v", err)
	}
}

// =============================================================================
// 辅助
// =============================================================================

func sideFromOrder(s string) engine.Side {
	if s == SideSell {
		return engine.SideShort
	}
	return engine.SideLong
}

func reject(err error, msg string) *OrderResult {
	return &OrderResult{Success: false, Kind: KindOf(err), Message: msg}
}
