package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"settlement-service/config"
	"settlement-service/models"
	"settlement-service/services"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config

	log *zap.Logger
	mu  sync.Mutex // guards publishes on Channel
	// delayed is true when the delayed-message plugin is available; otherwise
	// delays use a TTL queue that dead-letters into the order exchange.
	delayed bool
}

func NewRabbitMQ(cfg *config.Config, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, xerrors.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		log:     logger.Named("rabbitmq"),
	}, nil
}

// waitQueue holds events of one type until they are due. Messages only
// expire at the head of a queue, so every delay class gets its own queue
// with a queue-level TTL.
func (r *RabbitMQ) waitQueue(eventType string) string {
	return r.Cfg.OrderQueue + "_wait_" + eventType
}

// waitTTLs is the delay of each timer event when the plugin is missing.
func (r *RabbitMQ) waitTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		services.EventPaymentCheck: r.Cfg.PaymentTimeout,
		services.EventAutoRelease:  r.Cfg.AutoReleaseAfter,
	}
}

func (r *RabbitMQ) SetupQueues() error {
	dlx := r.Cfg.DeadLetterQueue + "_exchange"
	if err := r.Channel.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return xerrors.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(r.Cfg.DeadLetterQueue, true, false, false, false,
		amqp.Table{"x-queue-type": "classic"}); err != nil {
		return xerrors.Errorf("declare dead letter queue: %w", err)
	}
	if err := r.Channel.QueueBind(r.Cfg.DeadLetterQueue, r.Cfg.DeadLetterQueue, dlx, false, nil); err != nil {
		return xerrors.Errorf("bind dead letter queue: %w", err)
	}

	if err := r.Channel.ExchangeDeclare(r.Cfg.OrderExchange, "direct", true, false, false, false, nil); err != nil {
		return xerrors.Errorf("declare order exchange: %w", err)
	}
	// Order events carry priorities and fall into the dead letter queue when
	// rejected.
	if _, err := r.Channel.QueueDeclare(r.Cfg.OrderQueue, true, false, false, false, amqp.Table{
		"x-max-priority":            r.Cfg.MaxPriority,
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
	}); err != nil {
		return xerrors.Errorf("declare order queue: %w", err)
	}
	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, r.Cfg.OrderQueue, r.Cfg.OrderExchange, false, nil); err != nil {
		return xerrors.Errorf("bind order queue: %w", err)
	}

	if err := r.setupDelay(); err != nil {
		return err
	}

	if err := r.Channel.ExchangeDeclare(r.Cfg.NotificationExchange, "fanout", true, false, false, false, nil); err != nil {
		return xerrors.Errorf("declare notification exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(r.Cfg.NotificationQueue, true, false, false, false, nil); err != nil {
		return xerrors.Errorf("declare notification queue: %w", err)
	}
	if err := r.Channel.QueueBind(r.Cfg.NotificationQueue, "", r.Cfg.NotificationExchange, false, nil); err != nil {
		return xerrors.Errorf("bind notification queue: %w", err)
	}
	return nil
}

func (r *RabbitMQ) setupDelay() error {
	// The delayed-message exchange needs the broker plugin.
	err := r.Channel.ExchangeDeclare(r.Cfg.DelayExchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "direct"})
	if err == nil {
		r.delayed = true
		return r.Channel.QueueBind(r.Cfg.OrderQueue, r.Cfg.OrderQueue, r.Cfg.DelayExchange, false, nil)
	}
	r.log.Warn("delayed exchange not supported, using TTL queue", zap.Error(err))

	// A failed declare closes the channel.
	ch, cerr := r.Conn.Channel()
	if cerr != nil {
		return xerrors.Errorf("reopen channel: %w", cerr)
	}
	r.Channel = ch
	for eventType, ttl := range r.waitTTLs() {
		_, err = r.Channel.QueueDeclare(r.waitQueue(eventType), true, false, false, false, amqp.Table{
			"x-message-ttl":             ttl.Milliseconds(),
			"x-dead-letter-exchange":    r.Cfg.OrderExchange,
			"x-dead-letter-routing-key": r.Cfg.OrderQueue,
		})
		if err != nil {
			return xerrors.Errorf("declare wait queue for %s: %w", eventType, err)
		}
	}
	return nil
}

// PublishDelayedEvent delivers event to the order queue after delay. Without
// the delayed-message plugin the wait queue of the event type sets the delay.
func (r *RabbitMQ) PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         event.Type,
		Body:         body,
		Priority:     priorityOf(event.Type),
	}
	exchange, key := r.Cfg.DelayExchange, r.Cfg.OrderQueue
	if r.delayed {
		msg.Headers = amqp.Table{"x-delay": delay.Milliseconds()}
	} else {
		ttl, ok := r.waitTTLs()[event.Type]
		if !ok {
			return xerrors.Errorf("no wait queue for event type %q", event.Type)
		}
		if ttl != delay {
			r.log.Debug("delay fixed by wait queue", zap.String("event", event.Type),
				zap.Duration("requested", delay), zap.Duration("ttl", ttl))
		}
		exchange, key = "", r.waitQueue(event.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Channel.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Deliver publishes a notification intent to the notification exchange.
func (r *RabbitMQ) Deliver(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.CreatedAt,
		ContentType:  "application/json",
		Type:         string(n.Type),
		MessageId:    n.ID,
		Body:         body,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Channel.PublishWithContext(ctx, r.Cfg.NotificationExchange, "", false, false, msg)
}

// ConsumeChannel opens a channel dedicated to consumers.
func (r *RabbitMQ) ConsumeChannel() (*amqp.Channel, error) {
	ch, err := r.Conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.log.Debug("close channel", zap.Error(err))
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			r.log.Debug("close connection", zap.Error(err))
		}
	}
}

// priorityOf ranks money-moving events first.
func priorityOf(eventType string) uint8 {
	switch eventType {
	case services.EventAutoRelease:
		return 9
	case services.EventPaymentCheck:
		return 5
	default:
		return 1
	}
}
