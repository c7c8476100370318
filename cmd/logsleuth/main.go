package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sleuthstack/logsleuth/internal/analyzer"
	"github.com/sleuthstack/logsleuth/internal/cache"
	"github.com/sleuthstack/logsleuth/internal/config"
	"github.com/sleuthstack/logsleuth/internal/correlator"
	"github.com/sleuthstack/logsleuth/internal/eventstore"
	"github.com/sleuthstack/logsleuth/internal/kb"
	"github.com/sleuthstack/logsleuth/internal/mcp"
	"github.com/sleuthstack/logsleuth/internal/metrics"
	"github.com/sleuthstack/logsleuth/internal/orchestrator"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	// Credentials may come from a local .env file, matching how the store
	// and knowledge-base endpoints are provisioned in development.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting logsleuth",
		slog.String("transport", cfg.Server.MCPTransport),
		slog.String("event_store", cfg.Elasticsearch.URL),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemory()
	}
	defer cacheProvider.Close()

	store := eventstore.NewElasticStore(eventstore.Config{
		BaseURL:  cfg.Elasticsearch.URL,
		Index:    cfg.Elasticsearch.LogIndex,
		APIKey:   cfg.Elasticsearch.APIKey,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
		Timeout:  cfg.Elasticsearch.Timeout,
		CacheTTL: cfg.Cache.TTL,
	}, cacheProvider, logger)

	bridge := kb.NewElasticBridge(kb.Config{
		BaseURL:  cfg.Elasticsearch.URL,
		Index:    cfg.Elasticsearch.InvestigationIndex,
		APIKey:   cfg.Elasticsearch.APIKey,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
		Timeout:  cfg.Elasticsearch.Timeout,
	}, logger)

	freqAnalyzer := analyzer.NewAnalyzer(store, logger)
	traceCorrelator := correlator.NewCorrelator(store, logger)

	investigator := orchestrator.New(orchestrator.Config{
		KnownServices:  cfg.Investigation.KnownServices,
		DefaultWindow:  cfg.Investigation.DefaultWindow,
		BucketInterval: cfg.Investigation.BucketInterval,
	}, store, freqAnalyzer, traceCorrelator, bridge, logger, nil)

	server := mcp.New(store, freqAnalyzer, traceCorrelator, bridge, investigator, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var mcpHTTP *http.Server
	switch cfg.Server.MCPTransport {
	case "http":
		mux := http.NewServeMux()
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(server.MCPServer()))
		mcpHTTP = &http.Server{
			Addr:    cfg.Server.MCPAddress,
			Handler: mux,
		}
		go func() {
			logger.Info("MCP server listening", slog.String("address", cfg.Server.MCPAddress))
			if err := mcpHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("MCP server exited", slog.Any("error", err))
				stop()
			}
		}()
	default:
		go func() {
			if err := server.ServeStdio(); err != nil {
				logger.Error("stdio transport exited", slog.Any("error", err))
			}
			stop()
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if mcpHTTP != nil {
		if err := mcpHTTP.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("MCP server shutdown", slog.Any("error", err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("logsleuth stopped")
}
