package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestPublishKeysByOrderID(t *testing.T) {
	mock := mocks.NewSyncProducer(t, ProducerConfig())
	orderID := uuid.New()

	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "orders.test" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != orderID.String() {
			return errors.New("message not keyed by order id")
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event models.OrderEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.Type != models.EventOrderCreated {
			return errors.New("unexpected event type " + event.Type)
		}
		return nil
	})

	producer := NewKafkaProducerFrom(mock, "orders.test", testLogger())
	event := models.NewOrderEvent(models.EventOrderCreated, orderID, nil)
	require.NoError(t, producer.Publish(context.Background(), event))
	require.NoError(t, producer.Close())
}

func TestPublishFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, ProducerConfig())
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewKafkaProducerFrom(mock, "", testLogger())
	assert.Equal(t, DefaultTopic, producer.topic)

	err := producer.Publish(context.Background(), models.NewOrderEvent(models.EventOrderDeleted, uuid.New(), nil))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestPublishCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, ProducerConfig())
	producer := NewKafkaProducerFrom(mock, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := producer.Publish(ctx, models.NewOrderEvent(models.EventOrderUpdated, uuid.New(), nil))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, producer.Close())
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher(testLogger())
	assert.NoError(t, p.Publish(context.Background(), models.NewOrderEvent(models.EventOrderCreated, uuid.New(), nil)))
	assert.NoError(t, p.Close())
}
