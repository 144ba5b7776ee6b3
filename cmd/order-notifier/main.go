package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-service/internal/config"
	"github.com/jogardn/order-service/internal/events"
	"github.com/jogardn/order-service/internal/notify"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	var consumer *events.KafkaConsumer
	for i := 0; i < 10; i++ {
		consumer, err = events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.EventsTopic, hub, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}
		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer after retries")
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"topic": cfg.EventsTopic,
			"group": cfg.ConsumerGroup,
		}).Info("Starting Kafka consumer for order events")
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
			stop()
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"service":     "order-notifier",
			"subscribers": hub.ClientCount(),
		})
	}).Methods(http.MethodGet)
	router.HandleFunc("/consumer/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(consumer.GetMetrics())
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    ":" + cfg.NotifierPort,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.NotifierPort).Info("Starting order notifier")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down order notifier...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Kafka consumer")
	}

	logger.Info("Order notifier gracefully stopped")
}
