package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

// MaxReplays caps how often a single event may go back from the DLQ.
const MaxReplays = 6

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

// DLQEntry is a decoded dead-lettered order event.
type DLQEntry struct {
	Key      string
	Event    *models.OrderEvent
	Metadata MessageMetadata
}

func DecodeDLQMessage(message *sarama.ConsumerMessage) DLQEntry {
	entry := DLQEntry{Key: string(message.Key)}
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			_ = json.Unmarshal(header.Value, &entry.Metadata)
			break
		}
	}
	if entry.Metadata.OriginalTopic == "" {
		entry.Metadata.OriginalTopic = originalTopic(message.Topic)
	}

	var event models.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err == nil {
		entry.Event = &event
	}
	return entry
}

func originalTopic(dlqTopic string) string {
	const suffix = ".dlq"
	if len(dlqTopic) > len(suffix) && dlqTopic[len(dlqTopic)-len(suffix):] == suffix {
		return dlqTopic[:len(dlqTopic)-len(suffix)]
	}
	return DefaultTopic
}

// DLQMonitor logs dead-lettered order events and, when a producer is set,
// replays them onto their original topic.
type DLQMonitor struct {
	producer    sarama.SyncProducer
	logger      *logrus.Logger
	replayDelay time.Duration
}

func NewDLQMonitor(producer sarama.SyncProducer, replayDelay time.Duration, logger *logrus.Logger) *DLQMonitor {
	return &DLQMonitor{producer: producer, replayDelay: replayDelay, logger: logger}
}

func (m *DLQMonitor) Setup(sarama.ConsumerGroupSession) error {
	m.logger.Info("DLQ consumer session setup")
	return nil
}

func (m *DLQMonitor) Cleanup(sarama.ConsumerGroupSession) error {
	m.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (m *DLQMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m.Handle(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (m *DLQMonitor) Handle(ctx context.Context, message *sarama.ConsumerMessage) {
	entry := DecodeDLQMessage(message)

	fields := logrus.Fields{
		"topic":          message.Topic,
		"partition":      message.Partition,
		"offset":         message.Offset,
		"key":            entry.Key,
		"original_topic": entry.Metadata.OriginalTopic,
		"retry_count":    entry.Metadata.RetryCount,
		"error_message":  entry.Metadata.ErrorMessage,
	}
	if entry.Event != nil {
		fields["order_id"] = entry.Event.OrderID
		fields["event_type"] = entry.Event.Type
		fields["total_amount"] = entry.Event.TotalAmount.String()
	}
	m.logger.WithFields(fields).Warn("DLQ message detected")

	if m.producer == nil {
		return
	}
	if m.replayDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.replayDelay):
		}
	}
	if err := m.Replay(message); err != nil {
		m.logger.WithError(err).WithField("key", entry.Key).Error("Failed to replay DLQ message")
	}
}

// Replay sends the original payload back to the topic it failed on,
// carrying the retry count forward.
func (m *DLQMonitor) Replay(message *sarama.ConsumerMessage) error {
	entry := DecodeDLQMessage(message)
	if entry.Metadata.RetryCount >= MaxReplays {
		return fmt.Errorf("%w: %d", ErrReplayLimit, entry.Metadata.RetryCount)
	}

	replay := &sarama.ProducerMessage{
		Topic: entry.Metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(entry.Metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := m.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"replay_topic":     replay.Topic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              entry.Key,
	}).Info("Message replayed from DLQ")
	return nil
}
