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
	"github.com/jogardn/order-service/internal/config"
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

	mock := catalog.NewMockCatalog(cfg.CatalogMaxLatency, cfg.CatalogFailureRate, logger)
	for _, p := range catalog.SeedProducts() {
		mock.Put(p)
	}

	router := mux.NewRouter()
	mock.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.CatalogPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.CatalogPort,
			"max_latency":  cfg.CatalogMaxLatency.String(),
			"failure_rate": cfg.CatalogFailureRate,
		}).Info("Starting mock product service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down mock product service...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
}
