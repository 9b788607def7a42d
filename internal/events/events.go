// Package events publishes trip lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TripStarted      = "trip.started"
	SegmentCompleted = "segment.completed"
	DestinationNear  = "destination.near"
	TripEnded        = "trip.ended"
)

const Source = "jeeproute"

// DefaultEmitTimeout bounds one Emit including the writer's retries.
const DefaultEmitTimeout = 2 * time.Second

// Event is the envelope written to the trip events topic.
type Event struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Type       string    `json:"type"`
	VehicleID  string    `json:"vehicleId"`
	TripID     string    `json:"tripId"`
	Direction  string    `json:"direction"`
	Zone       string    `json:"zone,omitempty"`
	ZoneIndex  *int      `json:"zoneIndex,omitempty"`
	DistanceKm *float64  `json:"distanceKm,omitempty"`
	Time       time.Time `json:"time"`
}

// New stamps an event with a fresh id and the time it happened.
func New(eventType, vehicleID, tripID, direction string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Source:    Source,
		Type:      eventType,
		VehicleID: vehicleID,
		TripID:    tripID,
		Direction: direction,
		Time:      at.UTC(),
	}
}

// Emitter is what the trip layer publishes through.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes events keyed by vehicle id so that one vehicle's events
// stay ordered within a partition. Callers hold a vehicle's lock while
// emitting, so every write is bounded by the producer timeout.
type Producer struct {
	w       messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           DefaultEmitTimeout,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, topic, logger)
}

func newProducer(w messageWriter, topic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{w: w, topic: topic, timeout: DefaultEmitTimeout, logger: logger}
}

func (p *Producer) Emit(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	msg := kafkago.Message{
		Key:   []byte(e.VehicleID),
		Value: b,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
		Time: e.Time,
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", p.topic),
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
