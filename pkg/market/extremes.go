package market

// 文件: pkg/market/extremes.go
// 历史最高/最低价缓存
//
// 启动时从上游周线种子化一次，之后只读。
// 拉取失败的交易对保持 nil (序列化为 null)，不阻塞启动。

import (
	"context"
	"log"
	"sync"
)

// Extremes 各交易对的 ATH/ATL 只读缓存
type Extremes struct {
	mu       sync.RWMutex
	bySymbol map[string]*ATHATL
}

// NewExtremes 创建空缓存
func NewExtremes() *Extremes {
	return &Extremes{bySymbol: make(map[string]*ATHATL)}
}

// Seed 逐个交易对拉取 ATH/ATL 填充缓存
// 单个失败只记日志并跳过，返回成功填充的个数
func (e *Extremes) Seed(ctx context.Context, client *RESTClient, symbols []string) int {
	seeded := 0
	for _, symbol := range symbols {
		info, err := client.GetATHATL(ctx, symbol)
		if err != nil {
			log.Printf("[Extremes] fetch ATH/ATL for %s failed: %v", symbol, err)
			continue
		}
		e.Set(symbol, info)
		log.Printf("[Extremes] %s ATH=%s ATL=%s", symbol, info.ATH, info.ATL)
		seeded++
	}
	return seeded
}

// Set 写入一个交易对的极值
func (e *Extremes) Set(symbol string, info *ATHATL) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bySymbol[symbol] = info
}

// Get 读取极值，未种子化或拉取失败的交易对返回 nil
func (e *Extremes) Get(symbol string) *ATHATL {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bySymbol[symbol]
}
