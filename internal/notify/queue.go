package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "milestage.notifications"
	QueueName    = "milestage.notifications"
	bindingKey   = "notification.*"
)

func routingKey(jobType string) string {
	return "notification." + jobType
}

func connect(url string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

// topology is the subset of *amqp091.Channel needed to declare the exchange,
// queue and binding.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// declareTopology runs on both the publishing and the consuming side, so jobs
// published before any worker has started are kept in the durable queue.
func declareTopology(ch topology) (amqp091.Queue, error) {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(QueueName, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, ExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}
	return q, nil
}

// QueuePublisher is a Sender that hands jobs to RabbitMQ for a separate worker.
type QueuePublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewQueuePublisher(url string) (*QueuePublisher, error) {
	conn, ch, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{conn: conn, channel: ch}, nil
}

func (p *QueuePublisher) Send(ctx context.Context, job Job) (string, error) {
	body, err := encodeJob(job)
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey(job.Type),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to publish notification: %w", err)
	}
	return messageID, nil
}

func (p *QueuePublisher) IsConnected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *QueuePublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func encodeJob(job Job) ([]byte, error) {
	if job.Type == "" {
		return nil, errors.New("notification type is required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return body, nil
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Type == "" {
		return Job{}, errors.New("notification type is required")
	}
	return job, nil
}

// QueueConsumer drains the notification queue into a Sender.
type QueueConsumer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	queue    amqp091.Queue
	logger   *zap.Logger
	backoffs []time.Duration
}

func NewQueueConsumer(url string, logger *zap.Logger) (*QueueConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, ch, err := connect(url)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(8, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	logger.Info("Notification consumer initialized",
		zap.String("queue", QueueName),
		zap.String("exchange", ExchangeName),
	)

	return &QueueConsumer{
		conn:     conn,
		channel:  ch,
		queue:    amqp091.Queue{Name: QueueName},
		logger:   logger,
		backoffs: defaultBackoffs,
	}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *QueueConsumer) Run(ctx context.Context, sender Sender) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue.Name, "notify-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, sender, msg)
		}
	}
}

func (c *QueueConsumer) handle(ctx context.Context, sender Sender, msg amqp091.Delivery) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		c.logger.Error("Discarding malformed notification", zap.Error(err))
		if err := msg.Nack(false, false); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	err = retryWithBackoff(ctx, c.backoffs, func() error {
		_, err := sender.Send(ctx, job)
		return err
	})
	if err != nil {
		requeue := !IsPermanent(err) && !msg.Redelivered
		c.logger.Error("Failed to deliver queued notification",
			zap.String("type", job.Type),
			zap.String("message_id", msg.MessageId),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		if err := msg.Nack(false, requeue); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}

func (c *QueueConsumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var _ Sender = (*QueuePublisher)(nil)
