package kafka

import (
	"context"
	"encoding/json"
	"time"

	"cricverse-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer streams reservation lifecycle events. One writer is shared
// across topics; messages are keyed by attempt ID so consumers see a
// single attempt's events in order.
type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
	return &Producer{Writer: writer}
}

type expiredEvent struct {
	AttemptID string    `json:"attempt_id"`
	EventID   string    `json:"event_id"`
	SeatIDs   []string  `json:"seat_ids,omitempty"`
	ExpiredAt time.Time `json:"expired_at"`
}

type releasedEvent struct {
	EventID    string    `json:"event_id"`
	SeatIDs    []string  `json:"seat_ids"`
	HolderID   string    `json:"holder_id"`
	ReleasedAt time.Time `json:"released_at"`
}

// PublishReservationHeld streams a successful hold to Kafka.
func (p *Producer) PublishReservationHeld(result models.ReservationResult) error {
	return p.publish(TopicReservationHeld, result.AttemptID, result)
}

// PublishReservationConfirmed streams a finalized reservation.
func (p *Producer) PublishReservationConfirmed(result models.ConfirmResult) error {
	return p.publish(TopicReservationConfirmed, result.AttemptID, result)
}

// PublishReservationReleased streams a voluntary release.
func (p *Producer) PublishReservationReleased(eventID string, seatIDs []string, holderID string) error {
	return p.publish(TopicReservationReleased, eventID, releasedEvent{
		EventID:    eventID,
		SeatIDs:    seatIDs,
		HolderID:   holderID,
		ReleasedAt: time.Now(),
	})
}

// PublishReservationExpired streams a sweeper reclaim.
func (p *Producer) PublishReservationExpired(attemptID, eventID string, seatIDs []string) error {
	return p.publish(TopicReservationExpired, attemptID, expiredEvent{
		AttemptID: attemptID,
		EventID:   eventID,
		SeatIDs:   seatIDs,
		ExpiredAt: time.Now(),
	})
}

func (p *Producer) publish(topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

// Close flushes and shuts down the writer.
func (p *Producer) Close() error {
	return p.Writer.Close()
}
