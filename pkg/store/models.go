// 文件: pkg/store/models.go
// 持久层数据模型 (GORM)
//
// 【存储策略】
// - 引擎对 orders / journal_entries 只写不读 (成交时落库)
// - portfolios / positions 机会性写回 + 启动热加载
// - users / payments 由外围服务维护，这里只建表保证外键完整
//
// 金额字段统一 decimal(18,8)，与引擎的定点数表示对齐。

package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 用户与支付 (外围服务维护)
// =============================================================================

// User 用户
type User struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (User) TableName() string { return "users" }

// Payment 支付流水
type Payment struct {
	ID        int64           `gorm:"primaryKey"`
	UserID    string          `gorm:"type:char(36);index"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Provider  string          `gorm:"type:varchar(32)"`
	Status    string          `gorm:"type:varchar(16)"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (Payment) TableName() string { return "payments" }

// =============================================================================
// 钱包与持仓
// =============================================================================

// PortfolioRecord 钱包落库记录
type PortfolioRecord struct {
	ID     string `gorm:"type:char(36);primaryKey"`
	UserID string `gorm:"type:char(36);uniqueIndex"`

	Balance         decimal.Decimal `gorm:"type:decimal(18,8)"`
	StartingBalance decimal.Decimal `gorm:"type:decimal(18,8)"`
	Leverage        int

	// 最高权益水位 (回撤基准)
	MaxDrawdownWatermark decimal.Decimal `gorm:"type:decimal(18,8)"`

	IsLiquidated bool
	IsActive     bool

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PortfolioRecord) TableName() string { return "portfolios" }

// PositionRecord 持仓落库记录 (每 钱包×交易对 一行)
type PositionRecord struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	PortfolioID string `gorm:"type:char(36);index:idx_portfolio_symbol,unique"`
	Symbol      string `gorm:"type:varchar(20);index:idx_portfolio_symbol,unique"`

	Side string `gorm:"type:varchar(8)"` // LONG / SHORT / FLAT

	Qty          decimal.Decimal `gorm:"type:decimal(18,8)"`
	EntryPrice   decimal.Decimal `gorm:"type:decimal(18,8)"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(18,8)"`

	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(18,8)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(18,8)"`

	Leverage         int
	LiquidationPrice decimal.NullDecimal `gorm:"type:decimal(18,8)"` // FLAT 时为 NULL

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PositionRecord) TableName() string { return "positions" }

// =============================================================================
// 订单与交易日志
// =============================================================================

// OrderRecord 订单记录 (引擎成交时写入)
// ID 为雪花算法生成
type OrderRecord struct {
	ID          int64  `gorm:"primaryKey"`
	PortfolioID string `gorm:"type:char(36);index"`

	Symbol    string `gorm:"type:varchar(20);index"`
	Side      string `gorm:"type:varchar(8)"`  // BUY / SELL
	OrderType string `gorm:"type:varchar(12)"` // MARKET / LIMIT / STOP

	Qty          decimal.Decimal     `gorm:"type:decimal(18,8)"`
	Price        decimal.NullDecimal `gorm:"type:decimal(18,8)"` // 市价单为 NULL
	FilledQty    decimal.Decimal     `gorm:"type:decimal(18,8)"`
	AvgFillPrice decimal.NullDecimal `gorm:"type:decimal(18,8)"`

	Status     string `gorm:"type:varchar(20)"` // FILLED / ...
	ReduceOnly bool

	Fee         decimal.Decimal     `gorm:"type:decimal(18,8)"`
	RealizedPnL decimal.NullDecimal `gorm:"type:decimal(18,8)"`

	CreatedAt time.Time  `gorm:"autoCreateTime"`
	FilledAt  *time.Time `gorm:"default:null"`
}

func (OrderRecord) TableName() string { return "orders" }

// JournalEntry 交易日志 (每次平仓/减仓成交恰好写一条)
type JournalEntry struct {
	ID          int64  `gorm:"primaryKey"`
	PortfolioID string `gorm:"type:char(36);index"`

	Symbol string `gorm:"type:varchar(20);index"`
	Side   string `gorm:"type:varchar(8)"` // 平仓前的持仓方向

	EntryPrice decimal.Decimal `gorm:"type:decimal(18,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(18,8)"`
	Qty        decimal.Decimal `gorm:"type:decimal(18,8)"`

	PnL decimal.Decimal `gorm:"type:decimal(18,8)"`
	// 相对占用保证金的收益率: realized / (qty*entry/leverage) * 100
	PnLPercent decimal.Decimal `gorm:"type:decimal(10,4)"`

	EntryTime time.Time
	ExitTime  time.Time
}

func (JournalEntry) TableName() string { return "journal_entries" }
