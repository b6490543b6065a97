package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/osc-relay-service/internal/config"
	"github.com/skypro1111/osc-relay-service/internal/metrics"
	"github.com/skypro1111/osc-relay-service/internal/relay"
	"github.com/skypro1111/osc-relay-service/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "osc-relay-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults and environment only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service starting", slog.String("version", serviceVersion))

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("message_format", cfg.Server.MessageFormat),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("stream_path", cfg.Stream.Path),
		slog.Int("send_queue_size", cfg.Stream.SendQueueSize),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	engine := relay.NewEngine(logger, appMetrics)
	defer engine.Close()

	udpServer := server.NewUDPServer(&cfg.Server, logger, engine, appMetrics)
	if err := udpServer.Listen(); err != nil {
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, engine, udpServer, appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Listen(); err != nil {
			_ = udpServer.Stop()
			return err
		}
	}

	host := server.LocalIPv4()
	attrs := []any{
		slog.String("udp_address", fmt.Sprintf("%s:%d", host, cfg.Server.UDPPort)),
		slog.String("message_format", cfg.Server.MessageFormat),
	}
	if httpServer != nil {
		attrs = append(attrs,
			slog.String("http_url", fmt.Sprintf("http://%s:%d", host, cfg.HTTP.Port)),
			slog.String("stream_url", fmt.Sprintf("ws://%s:%d%s", host, cfg.HTTP.Port, cfg.Stream.Path)),
		)
	}
	logger.Info("Service started successfully, waiting for signals...", attrs...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return udpServer.Serve(gctx)
	})

	// Closing the socket unblocks a pending read immediately
	g.Go(func() error {
		<-gctx.Done()
		return udpServer.Stop()
	})

	if httpServer != nil {
		g.Go(func() error {
			return httpServer.Serve(gctx)
		})
	}

	err := g.Wait()

	stats := udpServer.GetStatistics()
	relayStats := engine.Stats()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_decoded", stats.PacketsDecoded),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("socket_errors", stats.SocketErrors),
		slog.Uint64("deliveries", relayStats.Deliveries),
		slog.Uint64("send_failures", relayStats.SendFailures),
		slog.Int("subscribers", relayStats.Subscribers),
	)

	return err
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName))
}
