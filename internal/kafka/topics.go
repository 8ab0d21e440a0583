package kafka

import (
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reservation lifecycle topics.
const (
	TopicReservationHeld      = "reservation-held"
	TopicReservationConfirmed = "reservation-confirmed"
	TopicReservationReleased  = "reservation-released"
	TopicReservationExpired   = "reservation-expired"
)

// AllTopics lists every topic this service publishes to.
func AllTopics() []string {
	return []string{
		TopicReservationHeld,
		TopicReservationConfirmed,
		TopicReservationReleased,
		TopicReservationExpired,
	}
}

// EnsureTopicsExist creates the topics if they don't already exist.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		topicConfigs := []kafka.TopicConfig{
			{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}
		if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
			if err.Error() == "kafka server: topic already exists" {
				log.Printf("Topic %s already exists", topic)
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		} else {
			log.Printf("Created topic: %s", topic)
		}
	}

	// Give the controller a moment to propagate new topics.
	time.Sleep(1 * time.Second)
	return nil
}
