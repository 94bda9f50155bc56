package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askcsv/askcsv/internal/api"
	"github.com/askcsv/askcsv/internal/assistant"
	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/dataset/duckdb"
	datasetpostgres "github.com/askcsv/askcsv/internal/dataset/postgres"
	"github.com/askcsv/askcsv/internal/nl2sql"
	"github.com/askcsv/askcsv/internal/observability"
	s3store "github.com/askcsv/askcsv/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("askcsv-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	store, dialect, err := openDatasetStore(context.Background(), cfg.Service.Name, cfg.Dataset)
	if err != nil {
		logger.Error("failed to open dataset store", slog.String("driver", cfg.Dataset.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	generator, err := nl2sql.NewOpenAIClient(nl2sql.OpenAIConfig{
		BaseURL:  cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
		TokenEnv: cfg.AI.TokenEnv,
		Project:  cfg.AI.Project,
		Timeout:  cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize generation client", slog.Any("error", err))
		os.Exit(1)
	}
	if _, ok := os.LookupEnv(cfg.AI.TokenEnv); !ok {
		logger.Warn("generation token is not set; generate, refine and answer will fail until it is",
			slog.String("token_env", cfg.AI.TokenEnv),
		)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          assistant.NewService(store, generator, dialect, logger),
		DependencyTimeout: time.Second,
	}
	readiness := []api.ReadinessCheck{store.Ping}
	if cfg.ObjectStore.Enabled {
		objects, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Objects = objects
		readiness = append(readiness, objects.Ping)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dataset_driver", cfg.Dataset.Driver),
			slog.String("model", generator.Model()),
			slog.Bool("object_store", cfg.ObjectStore.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openDatasetStore returns the configured engine and the dialect name used in
// prompts.
func openDatasetStore(ctx context.Context, serviceName string, cfg config.DatasetConfig) (dataset.Store, string, error) {
	switch cfg.Driver {
	case config.DatasetDriverDuckDB:
		store, err := duckdb.Open(ctx, duckdb.Config{Path: cfg.DuckDBPath})
		if err != nil {
			return nil, "", err
		}
		return store, "DuckDB", nil
	case config.DatasetDriverPostgres:
		db, err := datasetpostgres.Open(ctx, datasetpostgres.DBConfig{
			DSN:              cfg.PostgresDSN,
			ApplicationName:  serviceName,
			StatementTimeout: cfg.StatementTimeout,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxIdleConns,
			ConnMaxIdleTime:  cfg.ConnMaxIdleTime,
			ConnMaxLifetime:  cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, "", err
		}
		return datasetpostgres.NewStore(db), "PostgreSQL", nil
	default:
		return nil, "", fmt.Errorf("unsupported dataset driver %q", cfg.Driver)
	}
}
