package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/handlers"
	"github.com/fabell4/marion/internal/i18n"
	"github.com/fabell4/marion/internal/middleware"
	"github.com/fabell4/marion/internal/services/ai"
	"github.com/fabell4/marion/internal/services/cache"
	"github.com/fabell4/marion/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("mode", cfg.Mode()).Info("Starting AI assistant proxy...")
	if cfg.Mode() == "unconfigured" {
		// Deliberately not fatal: /api/ping must stay up so deploys can
		// be verified before credentials are wired in.
		log.Warn("No provider credential configured; chat requests will fail")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Metrics.Port,
				"path": cfg.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize rate limiter
	rateLimiter, err := middleware.NewRateLimiter(&cfg.RateLimit, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize rate limiter")
	}

	// Initialize reply cache
	cacheService := cache.NewCache(&cfg.Cache, log)

	// Initialize providers in priority order: primary first, fallback second
	var providers []ai.Provider
	if cfg.Providers.OpenAI.APIKey != "" {
		providers = append(providers, ai.NewOpenAIProvider(&cfg.Providers.OpenAI, log))
	}
	if cfg.Providers.HuggingFace.APIToken != "" {
		providers = append(providers, ai.NewHuggingFaceProvider(&cfg.Providers.HuggingFace, log))
	}
	dispatcher := ai.NewDispatcher(providers, metrics, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize handler and server
	chatHandler := handlers.NewChatHandler(cfg, dispatcher, cacheService, rateLimiter, localizer, metrics, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chatHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}

	log.Info("Server stopped")
}
