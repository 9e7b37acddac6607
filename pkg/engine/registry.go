// 文件: pkg/engine/registry.go
// 组合注册表 - 进程级的用户钱包管理
//
// 【职责】
// 1. 钱包生命周期: 懒创建 / 复位 / 淘汰 / 从持久层热加载
// 2. 价格扇出: 行情价格逐钱包重估 + 强平检测
// 3. 订阅者推送: 钱包快照进有界队列，满则丢弃 (latest-wins)
// 4. 持久层写回: 尽力而为，失败记日志不回滚内存
//
// 【并发】
// portfolios / currentPrices / subscribers 由同一把互斥锁保护。
// 单钱包操作线性一致: 下单与价格重估在锁内完整执行，互不穿插。

package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

// =============================================================================
// 协作接口
// =============================================================================

// Store 钱包持久层
//
// 【设计】只依赖接口，不关心底层是 MySQL 还是 Mock
type Store interface {
	SavePortfolio(ctx context.Context, p *Portfolio) error
	LoadPortfolio(ctx context.Context, userID uuid.UUID) (*Portfolio, error)
}

// EventPublisher 引擎事件发布 (可选，nil 则不发布)
type EventPublisher interface {
	Publish(subject string, data any) error
}

// =============================================================================
// 订阅推送事件
// =============================================================================

const (
	UpdateTypePortfolio = "portfolio_update"   // 价格/成交驱动的增量推送
	UpdateTypeSnapshot  = "portfolio_snapshot" // 订阅时的全量快照
)

// Update 推送给订阅者的钱包事件
type Update struct {
	Type      string             `json:"type"`
	Data      *PortfolioSnapshot `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// =============================================================================
// Registry - 钱包注册表
// =============================================================================

type Registry struct {
	mu sync.Mutex

	// user_id -> 钱包，进程生命周期内常驻内存
	portfolios map[uuid.UUID]*Portfolio

	// symbol -> 最新价
	currentPrices map[string]decimal.Decimal

	// user_id -> 订阅者队列 (有界，非阻塞投递)
	subscribers map[uuid.UUID]chan Update

	queueSize int
	store     Store          // 可选
	publisher EventPublisher // 可选
}

// NewRegistry 创建注册表
// queueSize 为订阅者队列容量，<= 0 时取默认 100
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = 100
	}
	prices := make(map[string]decimal.Decimal, len(config.SupportedSymbols))
	for _, symbol := range config.SupportedSymbols {
		prices[symbol] = decimal.Zero
	}
	return &Registry{
		portfolios:    make(map[uuid.UUID]*Portfolio),
		currentPrices: prices,
		subscribers:   make(map[uuid.UUID]chan Update),
		queueSize:     queueSize,
	}
}

// SetStore 设置持久层
func (r *Registry) SetStore(store Store) { r.store = store }

// SetPublisher 设置事件发布器
func (r *Registry) SetPublisher(pub EventPublisher) { r.publisher = pub }

// =============================================================================
// 钱包生命周期
// =============================================================================

// GetOrCreate 获取已有钱包或新建
// 新建时用最新已知价格 (> 0) 预填各持仓的当前价
func (r *Registry) GetOrCreate(userID uuid.UUID, startingBalance decimal.Decimal, leverage int) *Portfolio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(userID, startingBalance, leverage)
}

func (r *Registry) getOrCreateLocked(userID uuid.UUID, startingBalance decimal.Decimal, leverage int) *Portfolio {
	if p, ok := r.portfolios[userID]; ok {
		return p
	}

	p := NewPortfolio(userID, startingBalance, leverage)
	for symbol, price := range r.currentPrices {
		if price.IsPositive() {
			if pos := p.GetPosition(symbol); pos != nil {
				pos.CurrentPrice = price
			}
		}
	}
	r.portfolios[userID] = p
	log.Printf("[Registry] created portfolio for user %s, balance=%s", userID, startingBalance)
	return p
}

// Execute 在注册表锁内对指定钱包执行变更
//
// 下单路径必须走这里: 同一用户的订单与价格重估在同一把锁下串行，
// 观察者永远看不到半更新的余额/持仓。fn 内禁止再调注册表方法。
func (r *Registry) Execute(userID uuid.UUID, startingBalance decimal.Decimal, leverage int, fn func(p *Portfolio) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.getOrCreateLocked(userID, startingBalance, leverage)
	return fn(p)
}

// ExecuteOrder 同 Execute，并在同一把锁下取交易对的最新价传给 fn
//
// 成交价必须来自注册表价格表而不是持仓上的 CurrentPrice:
// 价格重估只改未平仓位，FLAT 持仓上的价格会停在上次平仓时刻。
// 没有行情时传零值，由 fn 自行判定拒单。
func (r *Registry) ExecuteOrder(userID uuid.UUID, symbol string, startingBalance decimal.Decimal, leverage int, fn func(p *Portfolio, markPrice decimal.Decimal) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.getOrCreateLocked(userID, startingBalance, leverage)
	return fn(p, r.currentPrices[symbol])
}

// Get 获取钱包，不存在返回 nil
//
// 返回的是活对象: 并发场景下读它会与价格重估竞态，
// 只读展示走 SnapshotOf，变更走 Execute/ExecuteOrder。
func (r *Registry) Get(userID uuid.UUID) *Portfolio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portfolios[userID]
}

// SnapshotOf 在锁内生成钱包快照，不存在返回 nil
func (r *Registry) SnapshotOf(userID uuid.UUID) *PortfolioSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.portfolios[userID]
	if !ok {
		return nil
	}
	return p.Snapshot()
}

// Remove 淘汰钱包 (连带订阅)
func (r *Registry) Remove(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.portfolios[userID]; !ok {
		return false
	}
	delete(r.portfolios, userID)
	if ch, ok := r.subscribers[userID]; ok {
		close(ch)
		delete(r.subscribers, userID)
	}
	return true
}

// Reset 钱包复位: 淘汰后按初始资金重建
func (r *Registry) Reset(userID uuid.UUID, startingBalance decimal.Decimal, leverage int) *Portfolio {
	r.mu.Lock()
	delete(r.portfolios, userID)
	r.mu.Unlock()

	return r.GetOrCreate(userID, startingBalance, leverage)
}

// =============================================================================
// 价格扇出
// =============================================================================

// OnPriceUpdate 单交易对价格更新
// 不支持的交易对静默忽略。返回本轮被强平的用户列表。
func (r *Registry) OnPriceUpdate(symbol string, price decimal.Decimal) []uuid.UUID {
	return r.OnMultiPriceUpdate(map[string]decimal.Decimal{symbol: price})
}

// OnMultiPriceUpdate 批量价格更新
// 持锁逐钱包走 UpdatePrices + 强平检测，命中持仓的用户收到快照推送
func (r *Registry) OnMultiPriceUpdate(prices map[string]decimal.Decimal) []uuid.UUID {
	supported := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		if config.IsSupportedSymbol(symbol) {
			supported[symbol] = price
		}
	}
	if len(supported) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, price := range supported {
		r.currentPrices[symbol] = price
	}

	var liquidated []uuid.UUID
	for userID, p := range r.portfolios {
		if !p.IsActive {
			continue
		}

		touched := false
		for symbol := range supported {
			if pos := p.GetPosition(symbol); pos != nil && pos.IsOpen() {
				touched = true
				break
			}
		}

		symbols := p.UpdatePrices(supported)
		if len(symbols) > 0 {
			liquidated = append(liquidated, userID)
			log.Printf("[Registry] user %s liquidated on %v", userID, symbols)
			r.publishEvent("engine.liquidation", map[string]any{
				"user_id": userID.String(),
				"symbols": symbols,
			})
		}

		if touched {
			r.notifyLocked(userID, p, UpdateTypePortfolio)
		}
	}
	return liquidated
}

// CurrentPrice 查询最新价，未知交易对返回零
func (r *Registry) CurrentPrice(symbol string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPrices[symbol]
}

// =============================================================================
// 订阅者
// =============================================================================

// Subscribe 注册订阅者，返回有界只读队列
// 重复订阅替换旧队列；订阅后立刻收到一份全量快照 (钱包已存在时)
func (r *Registry) Subscribe(userID uuid.UUID) <-chan Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.subscribers[userID]; ok {
		close(old)
	}
	ch := make(chan Update, r.queueSize)
	r.subscribers[userID] = ch

	if p, ok := r.portfolios[userID]; ok {
		r.notifyLocked(userID, p, UpdateTypeSnapshot)
	}
	return ch
}

// Unsubscribe 注销订阅者，幂等
func (r *Registry) Unsubscribe(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.subscribers[userID]; ok {
		close(ch)
		delete(r.subscribers, userID)
	}
}

// NotifyUpdate 锁外入口: 成交后由交易所触发推送
func (r *Registry) NotifyUpdate(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.portfolios[userID]; ok {
		r.notifyLocked(userID, p, UpdateTypePortfolio)
	}
}

// notifyLocked 非阻塞投递钱包快照 (调用方持锁)
// 队列满直接丢弃: 客户端按 latest-wins 展示，旧快照无价值
func (r *Registry) notifyLocked(userID uuid.UUID, p *Portfolio, updateType string) {
	ch, ok := r.subscribers[userID]
	if !ok {
		return
	}

	select {
	case ch <- Update{Type: updateType, Data: p.Snapshot(), Timestamp: time.Now().UTC()}:
	default:
		// 队列满，丢弃
	}
}

// =============================================================================
// 持久层同步
// =============================================================================

// SyncToStore 写回钱包到持久层
// 尽力而为: 失败只记日志，内存状态不回滚，下次同步补上
func (r *Registry) SyncToStore(ctx context.Context, userID uuid.UUID) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	p, ok := r.portfolios[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := r.store.SavePortfolio(ctx, p); err != nil {
		log.Printf("[Registry] sync portfolio %s failed: %v", userID, err)
		return fmt.Errorf("sync portfolio: %w", err)
	}
	return nil
}

// SyncAll 写回全部钱包 (定时刷盘用)
// 单个失败不中断，返回失败个数
func (r *Registry) SyncAll(ctx context.Context) int {
	if r.store == nil {
		return 0
	}

	r.mu.Lock()
	userIDs := make([]uuid.UUID, 0, len(r.portfolios))
	for id := range r.portfolios {
		userIDs = append(userIDs, id)
	}
	r.mu.Unlock()

	failed := 0
	for _, id := range userIDs {
		if err := r.SyncToStore(ctx, id); err != nil {
			failed++
		}
	}
	return failed
}

// LoadFromStore 从持久层热加载钱包
// 持久层没有记录时返回 (nil, nil)
func (r *Registry) LoadFromStore(ctx context.Context, userID uuid.UUID) (*Portfolio, error) {
	if r.store == nil {
		return nil, nil
	}

	p, err := r.store.LoadPortfolio(ctx, userID)
	if err != nil {
		log.Printf("[Registry] load portfolio %s failed: %v", userID, err)
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if p == nil {
		return nil, nil
	}

	r.mu.Lock()
	r.portfolios[userID] = p
	r.mu.Unlock()

	log.Printf("[Registry] loaded portfolio for user %s from store", userID)
	return p, nil
}

// =============================================================================
// 统计
// =============================================================================

// Stats 注册表统计 (健康检查用)
type Stats struct {
	TotalPortfolios      int               `json:"total_portfolios"`
	ActivePortfolios     int               `json:"active_portfolios"`
	LiquidatedPortfolios int               `json:"liquidated_portfolios"`
	CurrentPrices        map[string]string `json:"current_prices"`
	SubscriberCount      int               `json:"subscriber_count"`
}

// GetStats 汇总当前状态
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalPortfolios: len(r.portfolios),
		CurrentPrices:   make(map[string]string, len(r.currentPrices)),
		SubscriberCount: len(r.subscribers),
	}
	for _, p := range r.portfolios {
		if p.IsActive {
			s.ActivePortfolios++
		}
		if p.IsLiquidated {
			s.LiquidatedPortfolios++
		}
	}
	for symbol, price := range r.currentPrices {
		s.CurrentPrices[symbol] = price.String()
	}
	return s
}

// publishEvent 发布引擎事件 (调用方持锁也安全: publisher 自身线程安全)
func (r *Registry) publishEvent(subject string, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(subject, data); err != nil {
		log.Printf("[Registry] publish %s failed: %v", subject, err)
	}
}
