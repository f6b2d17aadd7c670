// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"studyforge-go/internal/config"
	"studyforge-go/pkg/log"
	"studyforge-go/pkg/tasks"
)

// TaskHandler 接收从 Kafka 读到的任务。Submit 只负责把任务交给本地 worker，不等待处理完成。
type TaskHandler interface {
	Submit(task tasks.IngestTask) error
}

// Producer 把抽取任务发送到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Dispatch 发送一个文件处理任务到 Kafka，以文档 ID 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// 读取失败后的重试间隔，从 retryMin 开始翻倍，最长 retryMax。
var (
	retryMin = time.Second
	retryMax = 30 * time.Second
)

// messageReader 是 consume 用到的 kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer 启动一个 Kafka 消费者，把任务交给 handler，直到 ctx 结束。
// 失败的任务不会自动重试：交付后立即提交 offset，结果由文档阶段体现。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler TaskHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, handler)
	log.Info("Kafka 消费者已停止")
}

// consume 循环读取消息，只在 ctx 结束时返回。读取失败按指数退避重试。
func consume(ctx context.Context, r messageReader, handler TaskHandler) {
	delay := retryMin
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("从 Kafka 读取消息失败, %s 后重试: %v", delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextDelay(delay)
			continue
		}
		delay = retryMin

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			// 消息格式错误，直接提交，避免阻塞队列
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		} else if err := handler.Submit(task); err != nil {
			log.Errorf("提交抽取任务失败: document=%s, err=%v", task.DocumentID, err)
		} else {
			log.Infof("收到抽取任务: document=%s, offset=%d", task.DocumentID, m.Offset)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > retryMax {
		return retryMax
	}
	return d
}
