// 文件: pkg/engine/registry_test.go
// 注册表并发/订阅/强平扇出测试

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher 捕获发布的事件
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(subject string, data any) error {
	if _, err := json.Marshal(data); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, subject)
	return nil
}

func (f *fakePublisher) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeStore 内存持久层
type fakeStore struct {
	mu       sync.Mutex
	saved    map[uuid.UUID]int
	failures bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[uuid.UUID]int)}
}

func (f *fakeStore) SavePortfolio(ctx context.Context, p *Portfolio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures {
		return errors.New("db down")
	}
	f.saved[p.UserID]++
	return nil
}

func (f *fakeStore) LoadPortfolio(ctx context.Context, userID uuid.UUID) (*Portfolio, error) {
	return nil, nil
}

// =============================================================================
// 生命周期
// =============================================================================

func TestGetOrCreateIdempotent(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()

	p1 := r.GetOrCreate(userID, d("10000"), 10)
	p2 := r.GetOrCreate(userID, d("99999"), 20)

	assert.Same(t, p1, p2)
	assert.True(t, p2.StartingBalance.Equal(d("10000")))
}

func TestCreateSeedsKnownPrices(t *testing.T) {
	r := NewRegistry(10)
	r.OnPriceUpdate("BTC-USDT", d("100000"))

	p := r.GetOrCreate(uuid.New(), d("10000"), 10)
	assert.True(t, p.GetPosition("BTC-USDT").CurrentPrice.Equal(d("100000")))
	// 没有行情的交易对保持零价
	assert.True(t, p.GetPosition("ETH-USDT").CurrentPrice.IsZero())
}

func TestResetRestoresStartingBalance(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.OnPriceUpdate("BTC-USDT", d("100000"))

	err := r.Execute(userID, d("10000"), 10, func(p *Portfolio) error {
		_, err := p.OpenPosition("BTC-USDT", SideLong, d("0.1"), d("100000"))
		return err
	})
	require.NoError(t, err)

	fresh := r.Reset(userID, d("10000"), 10)
	assert.True(t, fresh.Balance.Equal(d("10000")))
	assert.False(t, fresh.GetPosition("BTC-USDT").IsOpen())
	assert.Same(t, fresh, r.Get(userID))
}

func TestRemoveClosesSubscriber(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.GetOrCreate(userID, d("10000"), 10)
	ch := r.Subscribe(userID)

	require.True(t, r.Remove(userID))
	assert.Nil(t, r.Get(userID))

	// 订阅通道被关闭 (排空快照后收到关闭信号)
	for range ch {
	}
	assert.False(t, r.Remove(userID))
}

// =============================================================================
// 价格扇出
// =============================================================================

func TestUnsupportedSymbolIgnored(t *testing.T) {
	r := NewRegistry(10)
	r.GetOrCreate(uuid.New(), d("10000"), 10)

	liquidated := r.OnPriceUpdate("DOGE-USDT", d("1"))
	assert.Empty(t, liquidated)
	assert.True(t, r.CurrentPrice("DOGE-USDT").IsZero())
}

func TestPriceUpdateNotifiesOnlyTouched(t *testing.T) {
	r := NewRegistry(10)
	r.OnPriceUpdate("BTC-USDT", d("100000"))

	holder, idle := uuid.New(), uuid.New()
	require.NoError(t, r.Execute(holder, d("10000"), 10, func(p *Portfolio) error {
		_, err := p.OpenPosition("BTC-USDT", SideLong, d("0.1"), d("100000"))
		return err
	}))
	r.GetOrCreate(idle, d("10000"), 10)

	holderCh := r.Subscribe(holder)
	idleCh := r.Subscribe(idle)
	drain(holderCh)
	drain(idleCh)

	r.OnPriceUpdate("BTC-USDT", d("101000"))

	select {
	case u := <-holderCh:
		assert.Equal(t, UpdateTypePortfolio, u.Type)
		assert.True(t, u.Data.TotalUnrealizedPnL.Equal(d("100")))
	default:
		t.Fatal("holder should receive an update")
	}

	select {
	case <-idleCh:
		t.Fatal("idle portfolio should not be notified")
	default:
	}
}

func TestLiquidationPublishesEvent(t *testing.T) {
	r := NewRegistry(10)
	pub := &fakePublisher{}
	r.SetPublisher(pub)
	r.OnPriceUpdate("BTC-USDT", d("100000"))

	userID := uuid.New()
	require.NoError(t, r.Execute(userID, d("10000"), 10, func(p *Portfolio) error {
		_, err := p.OpenPosition("BTC-USDT", SideShort, d("0.1"), d("100000"))
		return err
	}))

	liquidated := r.OnPriceUpdate("BTC-USDT", d("250000"))
	require.Equal(t, []uuid.UUID{userID}, liquidated)
	assert.Contains(t, pub.subjects(), "engine.liquidation")
}

// =============================================================================
// 订阅者
// =============================================================================

func TestSubscribeDeliversImmediateSnapshot(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.GetOrCreate(userID, d("10000"), 10)

	ch := r.Subscribe(userID)
	select {
	case u := <-ch:
		assert.Equal(t, UpdateTypeSnapshot, u.Type)
		assert.True(t, u.Data.Balance.Equal(d("10000")))
	default:
		t.Fatal("expected immediate snapshot")
	}
}

func TestResubscribeReplacesOldChannel(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.GetOrCreate(userID, d("10000"), 10)

	old := r.Subscribe(userID)
	drain(old)
	fresh := r.Subscribe(userID)

	// 旧通道关闭，新通道收到快照
	_, ok := <-old
	assert.False(t, ok)
	u, ok := <-fresh
	assert.True(t, ok)
	assert.Equal(t, UpdateTypeSnapshot, u.Type)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.Subscribe(userID)

	r.Unsubscribe(userID)
	r.Unsubscribe(userID) // 第二次不 panic
}

func TestSlowSubscriberDropsUpdates(t *testing.T) {
	r := NewRegistry(1) // 队列容量 1
	userID := uuid.New()
	r.GetOrCreate(userID, d("10000"), 10)

	ch := r.Subscribe(userID)
	drain(ch)

	// 连发三次，只留一条，绝不阻塞
	r.NotifyUpdate(userID)
	r.NotifyUpdate(userID)
	r.NotifyUpdate(userID)

	assert.Len(t, ch, 1)
}

// =============================================================================
// 持久层
// =============================================================================

func TestSyncAllCountsFailures(t *testing.T) {
	r := NewRegistry(10)
	fs := newFakeStore()
	r.SetStore(fs)

	u1, u2 := uuid.New(), uuid.New()
	r.GetOrCreate(u1, d("10000"), 10)
	r.GetOrCreate(u2, d("10000"), 10)

	assert.Equal(t, 0, r.SyncAll(context.Background()))
	assert.Equal(t, 1, fs.saved[u1])
	assert.Equal(t, 1, fs.saved[u2])

	fs.failures = true
	assert.Equal(t, 2, r.SyncAll(context.Background()))
}

func TestSyncWithoutStoreIsNoop(t *testing.T) {
	r := NewRegistry(10)
	r.GetOrCreate(uuid.New(), d("10000"), 10)
	assert.NoError(t, r.SyncToStore(context.Background(), uuid.New()))
}

// =============================================================================
// 并发: 行情与下单穿插
// =============================================================================

func TestConcurrentTicksAndOrders(t *testing.T) {
	r := NewRegistry(10)
	r.OnPriceUpdate("BTC-USDT", d("100000"))
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					r.OnPriceUpdate("BTC-USDT", d("100000").Add(decimal.NewFromInt(int64(j))))
				} else {
					r.Execute(userID, d("10000"), 10, func(p *Portfolio) error {
						if p.IsLiquidated {
							return ErrAccountLiquidated
						}
						pos := p.GetPosition("BTC-USDT")
						if pos.IsOpen() {
							_, err := p.ClosePosition("BTC-USDT", decimal.Zero, pos.CurrentPrice)
							return err
						}
						_, err := p.OpenPosition("BTC-USDT", SideLong, d("0.001"), pos.CurrentPrice)
						return err
					})
				}
			}
		}(i)
	}
	wg.Wait()

	// 不变量: 手续费只会减少余额，权益有限且非 NaN
	p := r.Get(userID)
	require.NotNil(t, p)
	assert.True(t, p.Balance.LessThanOrEqual(d("10000")))
}

func TestGetStats(t *testing.T) {
	r := NewRegistry(10)
	r.OnPriceUpdate("BTC-USDT", d("100000"))
	r.GetOrCreate(uuid.New(), d("10000"), 10)
	r.Subscribe(uuid.New())

	s := r.GetStats()
	assert.Equal(t, 1, s.TotalPortfolios)
	assert.Equal(t, 1, s.ActivePortfolios)
	assert.Equal(t, 0, s.LiquidatedPortfolios)
	assert.Equal(t, 1, s.SubscriberCount)
	assert.Equal(t, "100000", s.CurrentPrices["BTC-USDT"])
}

func drain(ch <-chan Update) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// =============================================================================
// 锁内读与下单取价
// =============================================================================

func TestSnapshotOfUnknownUser(t *testing.T) {
	r := NewRegistry(10)
	assert.Nil(t, r.SnapshotOf(uuid.New()))
}

func TestSnapshotOfMatchesLiveState(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.OnPriceUpdate("BTC-USDT", d("100000"))
	require.NoError(t, r.Execute(userID, d("10000"), 10, func(p *Portfolio) error {
		_, err := p.OpenPosition("BTC-USDT", SideLong, d("0.1"), d("100000"))
		return err
	}))

	snap := r.SnapshotOf(userID)
	require.NotNil(t, snap)
	assert.True(t, snap.Balance.Equal(d("9994")))
	assert.True(t, snap.Positions["BTC-USDT"].Qty.Equal(d("0.1")))
	assert.True(t, snap.Positions["BTC-USDT"].IsOpen)
}

func TestSnapshotOfConsistentUnderTicks(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	r.OnPriceUpdate("BTC-USDT", d("100000"))
	require.NoError(t, r.Execute(userID, d("10000"), 10, func(p *Portfolio) error {
		_, err := p.OpenPosition("BTC-USDT", SideLong, d("0.1"), d("100000"))
		return err
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			r.OnPriceUpdate("BTC-USDT", d("100000").Add(decimal.NewFromInt(int64(i))))
		}
	}()

	// 重估写入与快照读取并发: 每份快照内部必须自洽
	for i := 0; i < 500; i++ {
		snap := r.SnapshotOf(userID)
		require.NotNil(t, snap)
		assert.True(t, snap.Equity.Equal(snap.Balance.Add(snap.TotalUnrealizedPnL)))
	}
	<-done
}

func TestExecuteOrderResolvesRegistryPrice(t *testing.T) {
	r := NewRegistry(10)
	userID := uuid.New()
	// 钱包先于首个 tick 创建，下单取价仍要拿到最新价
	r.GetOrCreate(userID, d("10000"), 10)
	r.OnPriceUpdate("BTC-USDT", d("104000"))

	var got decimal.Decimal
	require.NoError(t, r.ExecuteOrder(userID, "BTC-USDT", d("10000"), 10, func(p *Portfolio, markPrice decimal.Decimal) error {
		got = markPrice
		return nil
	}))
	assert.True(t, got.Equal(d("104000")))
}

func TestExecuteOrderZeroPriceBeforeFirstTick(t *testing.T) {
	r := NewRegistry(10)
	err := r.ExecuteOrder(uuid.New(), "BTC-USDT", d("10000"), 10, func(p *Portfolio, markPrice decimal.Decimal) error {
		assert.True(t, markPrice.IsZero())
		return nil
	})
	require.NoError(t, err)
}
