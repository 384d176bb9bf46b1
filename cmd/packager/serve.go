package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	packager "github.com/lht-media/packager"
	"github.com/lht-media/packager/internal/facade"
	"github.com/lht-media/packager/internal/pipeline"
	"github.com/lht-media/packager/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), loadConfig())
		},
	}
}

func serve(ctx context.Context, cfg *viper.Viper) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	obs := packager.NewLoggingObserver(logger)

	eng, cleanup, err := buildEngine(cfg, obs)
	if err != nil {
		return err
	}
	defer cleanup()

	pipe, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	if err := pipe.Register(eng); err != nil {
		return err
	}

	// Instances the previous process left RUNNING are unrecoverable in
	// flight; mark them FAILED so operators can retry from checkpoint.
	recovered, err := eng.RecoverStuckInstances(ctx)
	if err != nil {
		return fmt.Errorf("recover stuck instances: %w", err)
	}
	if recovered > 0 {
		logger.Warn("marked stuck instances as failed", "count", recovered)
	}

	srv := &http.Server{
		Addr:    cfg.GetString("addr"),
		Handler: server.New(eng, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "store", cfg.GetString("store"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openSQLite opens the store database with a single connection. The driver
// sets no busy timeout, so a second connection writing concurrently would
// surface SQLITE_BUSY to HTTP handlers.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func buildEngine(cfg *viper.Viper, obs packager.Observer) (packager.Engine, func(), error) {
	noop := func() {}

	switch store := cfg.GetString("store"); store {
	case "memory":
		return packager.NewInMemoryEngineWithObserver(obs), noop, nil

	case "sqlite":
		db, err := openSQLite(cfg.GetString("sqlite_path"))
		if err != nil {
			return nil, nil, err
		}
		eng, err := packager.NewSQLiteEngineWithObserver(db, obs)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return eng, func() { db.Close() }, nil

	case "postgres":
		dsn := cfg.GetString("postgres_dsn")
		if dsn == "" {
			return nil, nil, errors.New("postgres store requires PACKAGER_POSTGRES_DSN")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		eng, err := packager.NewPostgresEngineWithObserver(db, obs)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return eng, func() { db.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetString("redis_addr"),
			Password: cfg.GetString("redis_password"),
			DB:       cfg.GetInt("redis_db"),
		})
		eng := packager.NewRedisEngineWithObserver(client, obs)
		return eng, func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (want memory, sqlite, postgres, or redis)", store)
	}
}

func buildPipeline(cfg *viper.Viper) (*pipeline.Pipeline, error) {
	model, err := facade.NewAnthropicModel(
		cfg.GetString("anthropic_model"),
		cfg.GetString("anthropic_api_key"),
	)
	if err != nil {
		return nil, err
	}

	search, err := facade.NewDuckDuckGo(cfg.GetInt("search_results"))
	if err != nil {
		return nil, err
	}

	var drive facade.Drive = facade.UnconfiguredDrive{}
	if root := cfg.GetString("drive_root"); root != "" {
		drive = facade.NewLocalDrive(afero.NewBasePathFs(afero.NewOsFs(), root))
	}

	return pipeline.New(pipeline.Config{
		Model:             model,
		Search:            search,
		Drive:             drive,
		SearchConcurrency: cfg.GetInt("search_concurrency"),
	}), nil
}
