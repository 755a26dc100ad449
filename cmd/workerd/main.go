// Command workerd runs the same combined Collector+Worker process as
// collectord. It exists as its own binary so an operator can already
// point deployment tooling at "a worker daemon" distinct from "a
// collector daemon"; today both commands build the identical daemon
// because the Collector/Worker boundary is an in-process channel, not
// a network call (SPEC_FULL.md §2). Once a real transport implements
// collector.EventSink, this binary becomes the one that only runs the
// Worker half against a remote Collector.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/cmd/internal/daemon"
	"github.com/Robeartt/auctioneer-bot-sub000/config"
	"github.com/Robeartt/auctioneer-bot-sub000/observability/logging"
	"github.com/Robeartt/auctioneer-bot-sub000/observability/telemetry"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", stringFromEnv("AUCTIONEER_CONFIG", "./config.json"), "path to the bot's JSON configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AUCTIONEER_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithFile("workerd", env, cfg.LogFilePath)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "workerd",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    boolFromEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	d, err := daemon.Build(cfg, "workerd", env, logger)
	if err != nil {
		log.Fatalf("build daemon: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("workerd: close store failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("workerd: shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		case <-runErr:
		case <-shutdownCtx.Done():
			logger.Warn("workerd: forced shutdown after timeout")
		}
	case err := <-runErr:
		if err != nil {
			log.Fatalf("workerd: run: %v", err)
		}
	}
}

func stringFromEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolFromEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid boolean value for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return parsed
}
