package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/jogardn/order-service/internal/config"
	"github.com/jogardn/order-service/internal/events"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS must be set")
	}

	consumer, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, "dlq-monitor-group", events.ConsumerConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer consumer.Close()

	var producer sarama.SyncProducer
	if cfg.DLQReplay {
		producer, err = sarama.NewSyncProducer(cfg.KafkaBrokers, events.ProducerConfig())
		if err != nil {
			logger.WithError(err).Fatal("Failed to create replay producer")
		}
		defer producer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topic := events.DLQTopic(cfg.EventsTopic)
	monitor := events.NewDLQMonitor(producer, cfg.DLQReplayDelay, logger)

	go func() {
		for {
			if err := consumer.Consume(ctx, []string{topic}, monitor); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.WithError(err).Error("Error consuming from DLQ")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	logger.WithFields(logrus.Fields{
		"topic":  topic,
		"replay": cfg.DLQReplay,
	}).Info("DLQ monitor started")

	<-ctx.Done()
	logger.Info("Shutting down DLQ monitor...")
}
