// internal/messaging/rabbit.go
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
)

// RabbitClient feeds the secondary event pipeline: reconciled connection
// state changes are published to a durable per-tenant queue that downstream
// consumers (the AI assistant pipeline) read from.
type RabbitClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
	URL     string
}

func NewRabbitClient(url string, log *zap.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:    conn,
		channel: ch,
		log:     log,
		URL:     url,
	}, nil
}

func queueName(tenantID string) string {
	return fmt.Sprintf("tenant_%s_events", tenantID)
}

func dlqName(tenantID string) string {
	return fmt.Sprintf("tenant_%s_events_dlq", tenantID)
}

// EnsureTenantQueue declares the tenant's durable event queue and its DLQ.
// Safe to call repeatedly; declaration is idempotent.
func (r *RabbitClient) EnsureTenantQueue(tenantID string) error {
	dlq := dlqName(tenantID)

	_, err := r.channel.QueueDeclare(
		dlq,
		true, false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	_, err = r.channel.QueueDeclare(
		queueName(tenantID),
		true, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}

	r.log.Debug("event queues declared", zap.String("tenant", tenantID))
	return nil
}

// PublishConnectionEvent puts one connection event on the owning tenant's
// queue.
func (r *RabbitClient) PublishConnectionEvent(ev model.ConnectionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	queue := queueName(ev.TenantID)
	err = r.channel.Publish(
		"",    // default exchange
		queue, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   ev.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}
	return nil
}

// UpdateQueueDepth refreshes the per-tenant queue depth gauge.
func (r *RabbitClient) UpdateQueueDepth(tenantID string) {
	q, err := r.channel.QueueInspect(queueName(tenantID))
	if err != nil {
		r.log.Warn("failed to inspect event queue", zap.String("tenant", tenantID), zap.Error(err))
		return
	}
	metrics.EventQueueDepth.WithLabelValues(tenantID).Set(float64(q.Messages))
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}
