package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"settlement-service/middlewares"
	"settlement-service/models"
	"settlement-service/services"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed order event")

// OrderTimers is the part of the order service the timers drive.
type OrderTimers interface {
	ExpireUnpaid(ctx context.Context, id string) (*models.Order, error)
	AutoComplete(ctx context.Context, id string) (*models.Order, error)
}

type OrderConsumer struct {
	orders OrderTimers
	log    *zap.Logger
}

func NewOrderConsumer(orders OrderTimers, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{orders: orders, log: logger.Named("consumer")}
}

// Start consumes the order queue and its dead letter queue until ctx is done
// or the channel closes.
func (c *OrderConsumer) Start(ctx context.Context, ch *amqp.Channel, orderQueue, deadLetterQueue string) error {
	msgs, err := ch.Consume(orderQueue, "settlement-service", false, false, false, false, nil)
	if err != nil {
		return xerrors.Errorf("consume %s: %w", orderQueue, err)
	}
	dlq, err := ch.Consume(deadLetterQueue, "settlement-service-dlq", false, false, false, false, nil)
	if err != nil {
		return xerrors.Errorf("consume %s: %w", deadLetterQueue, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.process(ctx, msg)
			case msg, ok := <-dlq:
				if !ok {
					return
				}
				c.deadLetter(msg)
			}
		}
	}()
	return nil
}

func (c *OrderConsumer) process(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in message processing", zap.Any("panic", r))
			_ = msg.Nack(false, false)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := c.Handle(hctx, msg.Body)
	switch {
	case err == nil:
		if aerr := msg.Ack(false); aerr != nil {
			c.log.Warn("ack failed", zap.Error(aerr))
		}
	case Retryable(err) && !msg.Redelivered:
		c.log.Warn("order event failed, requeueing", zap.Error(err))
		_ = msg.Nack(false, true)
	default:
		c.log.Error("order event rejected", zap.ByteString("body", msg.Body), zap.Error(err))
		_ = msg.Nack(false, false)
	}
}

// Handle applies one order event. Events for orders that already moved on
// succeed without changes.
func (c *OrderConsumer) Handle(ctx context.Context, body []byte) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return xerrors.Errorf("decode body (%v): %w", err, ErrMalformed)
	}
	if ev.OrderID == "" {
		return xerrors.Errorf("missing order_id: %w", ErrMalformed)
	}

	var (
		order *models.Order
		err   error
	)
	switch ev.Type {
	case services.EventPaymentCheck:
		order, err = c.orders.ExpireUnpaid(ctx, ev.OrderID)
	case services.EventAutoRelease:
		order, err = c.orders.AutoComplete(ctx, ev.OrderID)
	default:
		return xerrors.Errorf("unknown event type %q: %w", ev.Type, ErrMalformed)
	}
	middlewares.RecordOperation(ev.Type, err == nil)
	if err != nil {
		return err
	}
	c.log.Info("order event handled", zap.String("order_id", ev.OrderID),
		zap.String("event", ev.Type), zap.String("status", string(order.Status)))
	return nil
}

// Retryable reports whether a failed event may succeed on redelivery.
func Retryable(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return false
	}
	switch services.KindOf(err) {
	case services.KindConflict, services.KindInternal:
		return true
	}
	return false
}

func (c *OrderConsumer) deadLetter(msg amqp.Delivery) {
	c.log.Error("dead letter", zap.String("type", msg.Type), zap.ByteString("body", msg.Body))
	if err := msg.Ack(false); err != nil {
		c.log.Warn("ack dead letter failed", zap.Error(err))
	}
}
