// 文件: pkg/kafka/producer.go
// K线归档 Kafka 生产者
//
// 已收盘K线异步写入 Kafka，供回测/数仓侧消费。
// 发送失败只计数记日志，行情主链路不受影响。

package kafka

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string
	RequiredAcks   int           // 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

// DefaultProducerConfig 默认配置 (leader 确认 + snappy 压缩)
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// Producer 异步 Kafka 生产者
type Producer struct {
	producer sarama.AsyncProducer

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewProducer 创建生产者
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	sc := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries

	// 异步模式: 不等成功回执，只收错误
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &Producer{producer: producer}
	p.wg.Add(1)
	go p.handleErrors()
	return p, nil
}

// PublishJSON 序列化后异步发送
// 相同 key 的消息保证分区内有序
func (p *Producer) PublishJSON(topic, key string, v any) error {
	if p.closed.Load() {
		return fmt.Errorf("producer is closed")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	p.sentCount.Add(1)
	return nil
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		log.Printf("[Kafka] send error: topic=%s, err=%v", err.Msg.Topic, err.Err)
	}
}

// ProducerStats 发送统计
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取发送统计
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭生产者，等待错误通道排空
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.producer.Close()
	p.wg.Wait()
	return err
}
