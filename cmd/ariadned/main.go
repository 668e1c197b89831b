// Command ariadned runs the workflow orchestration service: an HTTP API over
// a durable, resumable plan/research/synthesize pipeline with semantic
// request dedup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/jfarrand/ariadne/pkg/ariadne/api"
	"github.com/jfarrand/ariadne/pkg/ariadne/capability"
	"github.com/jfarrand/ariadne/pkg/ariadne/config"
	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/observability"
	"github.com/jfarrand/ariadne/pkg/ariadne/pipeline"
	"github.com/jfarrand/ariadne/pkg/ariadne/search"
	"github.com/jfarrand/ariadne/pkg/ariadne/service"
	"github.com/jfarrand/ariadne/pkg/ariadne/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ariadned:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML or JSON config file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg := config.New(nil)
	if *configPath != "" {
		loaded, err := config.FromFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := slog.LevelInfo
	if *debug || cfg.Bool("debug", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.Sub("server").String("addr", ":8080")
	}

	st, err := store.NewSQLiteStore(cfg.Sub("store").String("path", "ariadne.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	llmCfg := cfg.Sub("llm")
	client := llm.NewOpenAI(
		llm.WithAPIKey(llmCfg.StringFromEnv("OPENAI_API_KEY", "api_key", "")),
		llm.WithModel(llmCfg.String("model", "")),
		llm.WithEmbeddingModel(llmCfg.String("embedding_model", "")),
		llm.WithTimeout(llmCfg.Duration("timeout", 60*time.Second)),
	)

	searchCfg := cfg.Sub("search")
	fetcher := search.NewBrave(
		searchCfg.StringFromEnv("BRAVE_API_KEY", "api_key", ""),
		search.WithBraveTimeout(searchCfg.Duration("timeout", 15*time.Second)),
	)

	registry := capability.NewRegistry()
	registry.Register(capability.NewPlanner(client, logger))
	registry.Register(capability.NewResearcher(client, fetcher, logger))
	registry.Register(capability.NewSynthesizer(client, logger))

	graph, err := pipeline.New(registry, logger, pipeline.WithQuestionRecorder(st)).Compile()
	if err != nil {
		return fmt.Errorf("compile pipeline: %w", err)
	}

	metrics := observability.NewMetricsRecorder()
	spans := observability.NewSpanManager()

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	runner := service.NewRunner(runCtx, st, graph, logger,
		service.WithWorkers(cfg.Sub("runner").Int("workers", service.DefaultWorkers)),
		service.WithQueueSize(cfg.Sub("runner").Int("queue_size", service.DefaultQueueSize)),
		service.WithRunnerMetrics(metrics),
		service.WithRunnerTracing(spans),
	)

	controller := service.NewController(st, client, runner, logger,
		service.WithCacheThreshold(cfg.Sub("cache").Float("threshold", 0.95)),
		service.WithControllerMetrics(metrics),
	)

	server := api.NewServer(controller, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listenAddr)
		if err := server.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// Let queued and in-flight workflow runs finish; their state is
	// persisted per step either way.
	runner.Close()
	return nil
}
