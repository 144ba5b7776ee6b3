package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-service/internal/catalog"
	"github.com/jogardn/order-service/internal/circuitbreaker"
	"github.com/jogardn/order-service/internal/config"
	"github.com/jogardn/order-service/internal/events"
	"github.com/jogardn/order-service/internal/metrics"
	"github.com/jogardn/order-service/internal/orders"
	"github.com/jogardn/order-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.PostgresDSN
	if cfg.StoreDriver == storage.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	store, err := storage.Open(ctx, cfg.StoreDriver, dsn, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open order store")
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	breakers := circuitbreaker.NewManager(logger)
	breaker := breakers.GetOrCreate(catalog.BreakerName, catalog.BreakerConfig(cfg.BreakerMaxFailures, cfg.BreakerTimeout))
	m.WatchBreakers(func() map[string]int {
		states := make(map[string]int)
		for name, state := range breakers.States() {
			states[name] = int(state)
		}
		return states
	})
	products := catalog.NewClient(cfg.ProductServiceURL, cfg.LookupTimeout, breaker, logger, catalog.WithMetrics(m))

	var publisher events.Publisher = events.NewNoopPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventsTopic, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}
	defer publisher.Close()

	service := orders.NewService(store, products, logger,
		orders.WithConcurrency(cfg.EnrichConcurrency),
		orders.WithPublisher(publisher))

	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	orders.NewHandler(service, store, breakers, logger).RegisterRoutes(router)
	router.Use(loggingMiddleware(logger), m.Middleware())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Port,
			"store":        cfg.StoreDriver,
			"product_url":  cfg.ProductServiceURL,
			"events_topic": cfg.EventsTopic,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.Status,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
