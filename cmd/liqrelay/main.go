package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqrelay/config"
	"liqrelay/internal/dashboard"
	"liqrelay/internal/metrics"
	"liqrelay/internal/relay"
	"liqrelay/internal/writer"
	"liqrelay/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Relay.Name,
		"version":     cfg.Relay.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting liqrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.NewPrometheus("")
	promID := metrics.RegisterMetricHandler(prom.Handle)
	defer metrics.UnregisterMetricHandler(promID)

	var cw *metrics.CloudWatchPublisher
	if cfg.Metrics.CloudWatch.Enabled {
		cw, err = metrics.NewCloudWatchPublisher(ctx, cfg.Metrics.CloudWatch)
		if err != nil {
			log.WithError(err).Warn("CloudWatch publishing disabled")
		} else {
			cwID := metrics.RegisterMetricHandler(cw.Handle)
			defer metrics.UnregisterMetricHandler(cwID)
		}
	}

	var r *relay.Relay
	var status dashboard.StatusProvider
	if cfg.Delivery.Err != nil {
		log.WithError(cfg.Delivery.Err).Error("delivery required but unavailable, relay not started")
		status = dashboard.DeliveryUnavailable(cfg.Delivery.Err)
	} else {
		r, err = relay.New(cfg, writer.NewTelegram(cfg.Delivery.Telegram))
		if err != nil {
			log.WithError(err).Error("failed to build relay")
			os.Exit(1)
		}
		status = r
	}

	server := dashboard.NewServer(cfg.Server, cfg.Relay, status, prom.Handler(), log)

	var wg sync.WaitGroup

	if r != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				log.WithError(err).Error("relay stopped with error")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			log.WithError(err).Error("health endpoint failed")
		}
	}()

	if cw != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.Run(ctx, time.Minute)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("liqrelay stopped")
}
