package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/detect"
	"github.com/aegisshield/pattern-engine/internal/engine"
	"github.com/aegisshield/pattern-engine/internal/handlers"
	"github.com/aegisshield/pattern-engine/internal/kafka"
	"github.com/aegisshield/pattern-engine/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))

	logger.Info("Starting Pattern Engine Service",
		"version", "1.0.0",
		"environment", cfg.Environment)

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Initialize detector registry
	registry, err := detect.NewRegistry(cfg.Detectors, metricsCollector, logger)
	if err != nil {
		logger.Error("Failed to build detector registry", "error", err)
		os.Exit(1)
	}

	inferencer, err := detect.NewTemporalInferencer(cfg.Detectors.Temporal, logger)
	if err != nil {
		logger.Error("Failed to build temporal inferencer", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer
	var publisher engine.Publisher
	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer, err = kafka.NewProducer(*cfg, metricsCollector, logger)
		if err != nil {
			logger.Error("Failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		publisher = kafkaProducer
	}

	// Initialize the analysis engine
	analysisEngine := engine.New(
		registry,
		inferencer,
		publisher,
		*cfg,
		metricsCollector,
		logger,
	)

	// Initialize HTTP handlers
	httpHandlers := handlers.NewHTTPHandlers(analysisEngine, *cfg, metricsCollector, logger)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(httpHandlers.Middleware)
	httpHandlers.RegisterRoutes(router)

	// Add Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize and start Kafka consumer
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaConsumer, err = kafka.NewConsumer(analysisEngine, *cfg, metricsCollector, logger)
		if err != nil {
			logger.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kafkaConsumer.Start(); err != nil {
			logger.Error("Failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	logger.Info("Starting graceful shutdown")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer httpCancel()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("Kafka consumer shutdown failed", "error", err)
		}
	}

	logger.Info("Pattern Engine Service stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
