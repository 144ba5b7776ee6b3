package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

// DLQTopic is where messages go once retries are exhausted.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
}

// OrderEventHandler consumes decoded order events. Errors for which
// IsRetryable reports false go straight to the dead letter topic.
type OrderEventHandler interface {
	HandleOrderEvent(ctx context.Context, event models.OrderEvent) error
	IsRetryable(err error) bool
}

type ConsumerMetrics struct {
	ProcessedCount int64 `json:"processed_count"`
	RetryCount     int64 `json:"retry_count"`
	DLQCount       int64 `json:"dlq_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
}

type consumerCounters struct {
	processed atomic.Int64
	retries   atomic.Int64
	dlq       atomic.Int64
	success   atomic.Int64
	failure   atomic.Int64
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// processor runs one message through the handler with backoff and
// dead-letters it on failure.
type processor struct {
	handler  OrderEventHandler
	producer sarama.SyncProducer
	policy   RetryPolicy
	logger   *logrus.Logger
	counters *consumerCounters
}

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	processor     *processor
	logger        *logrus.Logger
	topics        []string
}

func ConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0
	return config
}

func NewKafkaConsumer(brokers []string, groupID, topic string, handler OrderEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, ConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		processor:     newProcessor(handler, producer, DefaultRetryPolicy, logger),
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func newProcessor(handler OrderEventHandler, producer sarama.SyncProducer, policy RetryPolicy, logger *logrus.Logger) *processor {
	return &processor{
		handler:  handler,
		producer: producer,
		policy:   policy,
		logger:   logger,
		counters: &consumerCounters{},
	}
}

// Start consumes until ctx is cancelled. Consume returns on every
// rebalance, so it is called in a loop.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{processor: c.processor, logger: c.logger}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *KafkaConsumer) GetMetrics() ConsumerMetrics {
	return c.processor.metrics()
}

type consumerGroupHandler struct {
	processor *processor
	logger    *logrus.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processor.process(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (p *processor) process(ctx context.Context, message *sarama.ConsumerMessage) {
	p.counters.processed.Add(1)

	err := p.handleWithRetry(ctx, message)
	if err == nil {
		p.counters.success.Add(1)
		return
	}

	p.logger.WithError(err).Error("Failed to process message after retries")
	p.counters.failure.Add(1)
	if ctx.Err() != nil {
		// shutting down; the offset is still marked and the event is dropped
		return
	}
	if dlqErr := p.sendToDLQ(message, err); dlqErr != nil {
		p.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return
	}
	p.counters.dlq.Add(1)
}

func (p *processor) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	p.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}).Debug("Processing Kafka message")

	var event models.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal order event: %w", err)
	}

	delay := p.policy.InitialDelay
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			p.logger.WithFields(logrus.Fields{
				"order_id":   event.OrderID,
				"event_type": event.Type,
				"attempt":    attempt,
				"delay":      delay.String(),
			}).Info("Retrying order event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			p.counters.retries.Add(1)

			delay *= 2
			if delay > p.policy.MaxDelay {
				delay = p.policy.MaxDelay
			}
		}

		err := p.handler.HandleOrderEvent(ctx, event)
		if err == nil {
			return nil
		}
		if !p.handler.IsRetryable(err) {
			p.logger.WithError(err).Error("Non-retryable error encountered")
			return err
		}
		if attempt >= p.policy.MaxRetries {
			return fmt.Errorf("exhausted retries for order %s: %w", event.OrderID, err)
		}
		p.logger.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error processing order event")
	}
}

func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == "retry_count" {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (p *processor) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	now := time.Now().UTC()
	metadata := MessageMetadata{
		RetryCount:    retryCount(message) + 1,
		FirstFailure:  now,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqTopic := DLQTopic(message.Topic)
	dlqMessage := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"dlq_topic":     dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")

	return nil
}

func (p *processor) metrics() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: p.counters.processed.Load(),
		RetryCount:     p.counters.retries.Load(),
		DLQCount:       p.counters.dlq.Load(),
		SuccessCount:   p.counters.success.Load(),
		FailureCount:   p.counters.failure.Load(),
	}
}
