package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/topichub/topichub/internal/broker"
	"github.com/topichub/topichub/internal/config"
	"github.com/topichub/topichub/internal/logging"
	"github.com/topichub/topichub/internal/monitoring"
	"github.com/topichub/topichub/internal/transport"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		logger := logging.New(logging.Config{Level: "info", Format: "json"})
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	b := broker.New(broker.Config{
		RingSize:  cfg.RingBufferSize,
		QueueSize: cfg.SubscriberQueueSize,
	}, logger)

	server := transport.NewServer(cfg, b, logger)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sysmon := monitoring.NewSystemMonitor(logger)
	sysmon.Start(cfg.MetricsInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	sysmon.Shutdown()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
}
