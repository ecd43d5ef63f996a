package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iot-telemetry-backend/internal/logging"
	"iot-telemetry-backend/internal/monitor"

	"go.uber.org/zap"
)

func main() {
	defaultURL := os.Getenv("TELEMETRY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}

	baseURL := flag.String("url", defaultURL, "base URL of telemetryd")
	interval := flag.Duration("interval", 100*time.Millisecond, "poll interval")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")
	flag.Parse()

	logger, err := logging.New("warn", "console", "")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting live data monitor. Updating every %s...\n", *interval)
	logger.Debug("polling", zap.String("url", *baseURL))
	monitor.Run(ctx, monitor.NewClient(*baseURL, *timeout), os.Stdout, *interval, logger)
}
