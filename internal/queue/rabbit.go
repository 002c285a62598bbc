package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guichetdigital/notification-service/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ScheduledMessage carries a deferred notification through the scheduler
// queue until its due time.
type ScheduledMessage struct {
	NotificationID string    `json:"notification_id"`
	ReceiverID     string    `json:"receiver_id"`
	DueAt          time.Time `json:"due_at"`
	PublishedAt    time.Time `json:"published_at"`
}

// Scheduler is the queue surface the orchestrator depends on.
type Scheduler interface {
	PublishScheduled(ctx context.Context, msg ScheduledMessage) error
	IsConnected() bool
}

type RabbitMqClient struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	Config    config.RabbitMQConfig
	Connected bool
	log       *zap.Logger
}

func NewRabbitMqClient(cfg config.RabbitMQConfig, log *zap.Logger) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &RabbitMqClient{
		Conn:      conn,
		Channel:   channel,
		Config:    cfg,
		Connected: true,
		log:       log,
	}, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	r.Conn.Close()
	r.Connected = false
}

func (r *RabbitMqClient) IsConnected() bool {
	return r.Connected && !r.Conn.IsClosed()
}

// SetUpExchangeAndQueue declares the direct exchange and the scheduler queue
// and binds them. Idempotent, safe to call on every start.
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(
		r.Config.ScheduledQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.Config.ScheduledQueue, err)
	}
	if err := r.Channel.QueueBind(
		r.Config.ScheduledQueue,
		r.Config.ScheduledQueue,
		r.Config.Exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.Config.ScheduledQueue, err)
	}
	return nil
}

func (r *RabbitMqClient) publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = r.Channel.PublishWithContext(
		ctx,
		r.Config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishScheduled enqueues a quiet-hours deferred notification.
func (r *RabbitMqClient) PublishScheduled(ctx context.Context, msg ScheduledMessage) error {
	return r.publish(ctx, r.Config.ScheduledQueue, msg)
}

// ConsumeScheduled drains the scheduler queue, waiting out each message's
// remaining defer window before handing it to the handler. Runs until the
// context is cancelled.
func (r *RabbitMqClient) ConsumeScheduled(ctx context.Context, handle func(context.Context, ScheduledMessage) error) error {
	deliveries, err := r.Channel.Consume(
		r.Config.ScheduledQueue,
		"",    // consumer tag
		false, // auto-ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.Config.ScheduledQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("scheduler queue channel closed")
			}
			var msg ScheduledMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				r.log.Error("drop malformed scheduled message", zap.Error(err))
				d.Nack(false, false)
				continue
			}
			if wait := time.Until(msg.DueAt); wait > 0 {
				select {
				case <-ctx.Done():
					d.Nack(false, true)
					return ctx.Err()
				case <-time.After(wait):
				}
			}
			if err := handle(ctx, msg); err != nil {
				r.log.Error("scheduled dispatch failed",
					zap.String("notification_id", msg.NotificationID), zap.Error(err))
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}
