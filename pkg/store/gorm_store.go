// 文件: pkg/store/gorm_store.go
// 持久层实现 (GORM + MySQL)
//
// 【设计】
// - 实现 engine.Store (钱包写回/热加载) 与交易所的订单/日志落库
// - 全部写路径接收 ctx，会话在单次操作内获取并保证释放
// - "写回失败不回滚内存" 的策略由调用方 (Registry) 负责，这里只如实报错

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tzero.com/pkg/engine"
)

// GormStore 基于 GORM 的持久层
type GormStore struct {
	db *gorm.DB
}

// Open 连接 MySQL 并建表
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if err := db.AutoMigrate(
		&User{},
		&Payment{},
		&PortfolioRecord{},
		&PositionRecord{},
		&OrderRecord{},
		&JournalEntry{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

// NewGormStore 包装已有连接 (测试用)
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// =============================================================================
// engine.Store 实现
// =============================================================================

// SavePortfolio 写回钱包 (upsert) 及其全部持仓
func (s *GormStore) SavePortfolio(ctx context.Context, p *engine.Portfolio) error {
	record := &PortfolioRecord{
		ID:                   p.ID.String(),
		UserID:               p.UserID.String(),
		Balance:              p.Balance,
		StartingBalance:      p.StartingBalance,
		Leverage:             p.Leverage,
		MaxDrawdownWatermark: p.MaxEquityWatermark,
		IsLiquidated:         p.IsLiquidated,
		IsActive:             p.IsActive,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"balance", "leverage", "max_drawdown_watermark",
				"is_liquidated", "is_active",
			}),
		}).Create(record).Error; err != nil {
			return fmt.Errorf("upsert portfolio: %w", err)
		}

		for _, pos := range p.Positions {
			posRecord := &PositionRecord{
				ID:            pos.ID.String(),
				PortfolioID:   pos.PortfolioID.String(),
				Symbol:        pos.Symbol,
				Side:          pos.Side.String(),
				Qty:           pos.Qty,
				EntryPrice:    pos.EntryPrice,
				CurrentPrice:  pos.CurrentPrice,
				UnrealizedPnL: pos.UnrealizedPnL,
				RealizedPnL:   pos.RealizedPnL,
				Leverage:      pos.Leverage,
			}
			if pos.IsOpen() && !pos.LiquidationPrice.IsZero() {
				posRecord.LiquidationPrice = decimal.NewNullDecimal(pos.LiquidationPrice)
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"side", "qty", "entry_price", "current_price",
					"unrealized_pnl", "realized_pnl", "leverage", "liquidation_price",
				}),
			}).Create(posRecord).Error; err != nil {
				return fmt.Errorf("upsert position %s: %w", pos.Symbol, err)
			}
		}
		return nil
	})
}

// LoadPortfolio 热加载钱包及持仓，没有记录返回 (nil, nil)
func (s *GormStore) LoadPortfolio(ctx context.Context, userID uuid.UUID) (*engine.Portfolio, error) {
	var record PortfolioRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	p := engine.NewPortfolio(userID, record.StartingBalance, record.Leverage)
	portfolioID, err := uuid.Parse(record.ID)
	if err != nil {
		return nil, fmt.Errorf("parse portfolio id: %w", err)
	}
	p.ID = portfolioID
	p.Balance = record.Balance
	p.MaxEquityWatermark = record.MaxDrawdownWatermark
	p.IsLiquidated = record.IsLiquidated
	p.IsActive = record.IsActive
	p.CreatedAt = record.CreatedAt
	p.UpdatedAt = record.UpdatedAt

	var positions []PositionRecord
	if err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", record.ID).
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	for _, rec := range positions {
		pos := p.GetPosition(rec.Symbol)
		if pos == nil {
			// 历史记录里可能有已下架的交易对，跳过
			continue
		}
		if id, err := uuid.Parse(rec.ID); err == nil {
			pos.ID = id
		}
		pos.PortfolioID = portfolioID
		pos.Side = sideFromString(rec.Side)
		pos.Qty = rec.Qty
		pos.EntryPrice = rec.EntryPrice
		pos.CurrentPrice = rec.CurrentPrice
		pos.UnrealizedPnL = rec.UnrealizedPnL
		pos.RealizedPnL = rec.RealizedPnL
		pos.Leverage = rec.Leverage
		if rec.LiquidationPrice.Valid {
			pos.LiquidationPrice = rec.LiquidationPrice.Decimal
		}
	}

	return p, nil
}

func sideFromString(s string) engine.Side {
	switch s {
	case "LONG":
		return engine.SideLong
	case "SHORT":
		return engine.SideShort
	}
	return engine.SideFlat
}

// =============================================================================
// 订单与交易日志落库
// =============================================================================

// SaveOrder 落库订单记录
func (s *GormStore) SaveOrder(ctx context.Context, o *OrderRecord) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// SaveJournalEntry 落库交易日志
func (s *GormStore) SaveJournalEntry(ctx context.Context, j *JournalEntry) error {
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("save journal entry: %w", err)
	}
	return nil
}
