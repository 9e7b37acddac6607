// 文件: pkg/nats/publisher.go
// NATS 事件发布者
//
// 引擎事件 (成交/强平) 的出口，订阅侧由外围服务消费。
// 轻量级替代 Kafka，适合本地开发。

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 连接 NATS 并创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("tzero-engine"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish 序列化后发布
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, bytes)
}

// Close 排空待发消息并断开连接
func (p *Publisher) Close() {
	p.conn.Drain()
}
