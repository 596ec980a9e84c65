package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentlens/agentlens/internal/actions"
	"github.com/agentlens/agentlens/internal/agent"
	"github.com/agentlens/agentlens/internal/api"
	"github.com/agentlens/agentlens/internal/auth"
	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/correlation"
	"github.com/agentlens/agentlens/internal/github"
	"github.com/agentlens/agentlens/internal/observability"
	"github.com/agentlens/agentlens/internal/telemetry"
	"github.com/agentlens/agentlens/internal/version"
)

const defaultConfigPath = "agentlens.yaml"

const (
	otelShutdownTimeout     = 5 * time.Second
	serverShutdownTimeout   = 10 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	serverReadTimeout       = 30 * time.Second
	serverIdleTimeout       = 2 * time.Minute
	outboundCallTimeout     = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentlens: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "path to the yaml configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelRuntime, err := observability.Setup(ctx, cfg.Observability.OTel, version.Version, logger)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer shutdownOTel(logger, otelRuntime)

	tokens, err := auth.NewTokenSupplier(auth.SupplierOptions{
		Source:    cfg.Auth.TokenSource,
		Token:     cfg.Auth.Token,
		EnvVar:    cfg.Auth.TokenEnv,
		TokenFile: cfg.Auth.TokenFile,
	})
	if err != nil {
		return fmt.Errorf("initialize token supplier: %w", err)
	}

	authorizer, err := newAuthorizer(cfg)
	if err != nil {
		return fmt.Errorf("initialize authorizer: %w", err)
	}

	store, err := newActionStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize action store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close action store", "error", err)
		}
	}()

	outboundClient := &http.Client{
		Timeout:   outboundCallTimeout,
		Transport: otelRuntime.WrapHTTPTransport(nil),
	}

	executor := github.NewExecutor(github.NewClient(github.Options{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		HTTPClient: outboundClient,
	}))

	engine := actions.NewEngine(store, executor, logger)
	engine.SetMetrics(actions.EngineMetrics{
		OnProposed: otelRuntime.RecordActionProposed,
		OnResolved: otelRuntime.RecordActionResolved,
	})

	resolver := telemetry.NewResolver(cfg.Telemetry)
	backends := make(map[string]string, len(cfg.Telemetry.Backends))
	for name, backend := range cfg.Telemetry.Backends {
		backends[name] = backend.BaseURL
	}
	fetchClient := telemetry.NewHTTPFetchClient(telemetry.HTTPClientOptions{
		Backends:       backends,
		DefaultBackend: cfg.Telemetry.LogProvider,
		Tokens:         tokens,
		HTTPClient: &http.Client{
			Timeout:   time.Duration(cfg.Telemetry.FetchTimeoutMS) * time.Millisecond,
			Transport: otelRuntime.WrapHTTPTransport(nil),
		},
	})
	aggregator := telemetry.NewAggregator(resolver, fetchClient, logger)
	aggregator.SetMetrics(telemetry.AggregatorMetrics{
		OnFetchFailure: otelRuntime.RecordFetchFailure,
	})

	var runner *agent.Runner
	if cfg.Agent.Enabled {
		runner, err = agent.NewRunner(agent.Options{
			APIKey:  cfg.Agent.APIKey,
			BaseURL: cfg.Agent.BaseURL,
			Model:   cfg.Agent.Model,
		}, engine, aggregator, logger)
		if err != nil {
			return fmt.Errorf("initialize agent runner: %w", err)
		}
	}

	handler := api.NewRouter(api.RouterOptions{
		AppVersion:    version.Version,
		StorageDriver: cfg.Storage.Driver,
		Aggregator:    aggregator,
		Engine:        engine,
		Authorizer:    authorizer,
		AgentRunner:   runner,
	})
	handler = correlation.Middleware(handler)
	handler = otelRuntime.SpanEnrichmentMiddleware(handler)
	handler = otelRuntime.WrapHTTPHandler(handler)

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", server.Addr,
			"storage_driver", cfg.Storage.Driver,
			"auth_enabled", cfg.Auth.Enabled,
			"agent_enabled", cfg.Agent.Enabled,
			"version", version.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func newAuthorizer(cfg config.Config) (*auth.Authorizer, error) {
	keys := make([]auth.KeyConfig, 0, len(cfg.Auth.Keys))
	for _, key := range cfg.Auth.Keys {
		keys = append(keys, auth.KeyConfig{
			ID:    key.ID,
			Token: key.Token,
			Name:  key.Name,
		})
	}
	return auth.NewAuthorizer(auth.Options{
		Enabled: cfg.Auth.Enabled,
		Keys:    keys,
	})
}

func newActionStore(cfg config.Config) (actions.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return actions.NewMemoryStore(), nil
	case "sqlite":
		return actions.NewSQLiteStore(cfg.Storage.Path)
	case "postgres":
		return actions.NewPostgresStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func shutdownOTel(logger *slog.Logger, runtime *observability.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
	defer cancel()
	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("shutdown opentelemetry", "error", err)
	}
}
