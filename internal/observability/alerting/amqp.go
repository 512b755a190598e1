package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange 是告警事件投递的 topic exchange。
const DefaultExchange = "spendguard.alerts"

// Publisher 是 AMQP channel 中发布消息所需的最小能力。
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig 描述 RabbitMQ 连接参数。
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPNotifier 将事件以 JSON 发布到 RabbitMQ，routing key 为 "alert.<kind>"。
type AMQPNotifier struct {
	publisher Publisher
	exchange  string
	closers   []func() error
}

// NewAMQPNotifier 建立连接并声明 exchange。
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &AMQPNotifier{
		publisher: ch,
		exchange:  exchange,
		closers:   []func() error{ch.Close, conn.Close},
	}, nil
}

// NewAMQPNotifierWithPublisher 使用已有的 Publisher，主要用于测试。
func NewAMQPNotifierWithPublisher(p Publisher, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPNotifier{publisher: p, exchange: exchange}
}

// Name 返回 "amqp"。
func (n *AMQPNotifier) Name() string { return "amqp" }

// Notify 发布事件。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.publisher == nil {
		return errors.New("RabbitMQ 通知器未初始化")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	return n.publisher.PublishWithContext(ctx, n.exchange, "alert."+string(event.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
}

// Close 关闭 channel 与连接。
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range n.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
