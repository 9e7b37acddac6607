// 文件: pkg/queue/worker.go
// 订单队列 Worker
//
// 从 Redis 列表 "orders_queue" BLPOP 订单信封并交给模拟交易所执行。
// 单条消息解析失败只记日志跳过，循环永不因脏数据退出。
//
// 使用开源库: github.com/redis/go-redis/v9

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tzero.com/pkg/exchange"
)

// OrdersQueue 订单队列的 Redis key
const OrdersQueue = "orders_queue"

// blpop 超时: 短超时保证 ctx 取消能及时生效
const popTimeout = time.Second

// envelope 队列信封: {"user_id": "...", "order": {...}}
type envelope struct {
	UserID string                 `json:"user_id"`
	Order  *exchange.OrderRequest `json:"order"`
}

// Worker 订单队列消费者
type Worker struct {
	rdb      *redis.Client
	exchange *exchange.PaperExchange
}

// NewWorker 创建 Worker
func NewWorker(rdb *redis.Client, ex *exchange.PaperExchange) *Worker {
	return &Worker{rdb: rdb, exchange: ex}
}

// Run 消费循环，直到 ctx 取消
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[Worker] started, listening on %q", OrdersQueue)

	for {
		if ctx.Err() != nil {
			log.Printf("[Worker] stopped")
			return
		}

		result, err := w.rdb.BLPop(ctx, popTimeout, OrdersQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("[Worker] redis error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// result = [queue, payload]
		if len(result) < 2 {
			continue
		}
		w.process(ctx, []byte(result[1]))
	}
}

// process 处理一条订单信封
func (w *Worker) process(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("[Worker] bad envelope: %v", err)
		return
	}
	if env.UserID == "" || env.Order == nil {
		log.Printf("[Worker] invalid order data format")
		return
	}

	userID, err := uuid.Parse(env.UserID)
	if err != nil {
		log.Printf("[Worker] bad user id %q: %v", env.UserID, err)
		return
	}

	log.Printf("[Worker] received order: user=%s %s %s %s qty=%s",
		userID, env.Order.Side, env.Order.OrderType, env.Order.Symbol, env.Order.Qty)

	result := w.exchange.SubmitOrder(ctx, userID, *env.Order)
	if result.Success {
		log.Printf("[Worker] order %d executed: %s filled %s @ %s fee=%s",
			result.OrderID, env.Order.Symbol, result.FilledQty, result.FillPrice, result.Fee)
	} else {
		log.Printf("[Worker] order failed: kind=%s %s", result.Kind, result.Message)
	}
}
