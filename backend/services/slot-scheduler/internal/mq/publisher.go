package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/jobs"
	"chargeslots/backend/services/slot-scheduler/internal/models"
)

// Routing keys.
const (
	KeyBookingExpired = "booking.expired"
	KeyJobCompleted   = "jobs.completed"
)

// BookingExpiredEvent is consumed by the notification workflow.
type BookingExpiredEvent struct {
	BookingID  string    `json:"booking_id"`
	OwnerID    string    `json:"owner_id"`
	StationID  string    `json:"station_id"`
	SlotID     string    `json:"slot_id"`
	TimeSlotID string    `json:"time_slot_id"`
	EndTime    time.Time `json:"end_time"`
	ExpiredAt  time.Time `json:"expired_at"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends JSON events to a topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// PublishJSON marshals v and publishes it persistently under key.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
}

// BookingExpired implements jobs.BookingEvents.
func (p *Publisher) BookingExpired(ctx context.Context, b models.Booking) error {
	event := BookingExpiredEvent{
		BookingID:  b.ID,
		OwnerID:    b.OwnerID,
		StationID:  b.StationID,
		SlotID:     b.SlotID,
		TimeSlotID: b.TimeSlotID,
		EndTime:    b.EndTime,
	}
	if b.ExpiredAt != nil {
		event.ExpiredAt = *b.ExpiredAt
	}
	return p.PublishJSON(ctx, KeyBookingExpired, event)
}

// ObserveRun implements jobs.Observer.
func (p *Publisher) ObserveRun(ctx context.Context, report jobs.Report) {
	if err := p.PublishJSON(ctx, KeyJobCompleted, report); err != nil {
		p.logger.Warn("publish job report", zap.String("job", report.Job), zap.Error(err))
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
