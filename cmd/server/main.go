package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/beneficiary/internal/auth"
	"github.com/rpattn/beneficiary/internal/config"
	"github.com/rpattn/beneficiary/internal/db"
	"github.com/rpattn/beneficiary/internal/ingestion"
	"github.com/rpattn/beneficiary/internal/metrics"
	"github.com/rpattn/beneficiary/internal/middleware"
	"github.com/rpattn/beneficiary/internal/platform/logger"
	"github.com/rpattn/beneficiary/internal/repository"
	"github.com/rpattn/beneficiary/internal/repository/memory"
	"github.com/rpattn/beneficiary/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type stores struct {
	uploads   repository.UploadRepository
	commits   repository.CommitStore
	locations repository.LocationRepository
	logs      repository.ValidationLogRepository
	close     func()
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New(nil)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	registry := workflow.NewRegistry(queue, m)
	registry.Register(workflow.UploadWorkflowName, workflow.NewUploadWorkflow(
		st.uploads,
		st.locations,
		st.logs,
		workflow.NewCommitter(st.commits, m),
		workflow.UploadOptions{Schema: cfg.IndividualSchema, MakerChecker: cfg.EnableMakerChecker},
		m,
		log.Named("workflow"),
	))

	pool := workflow.NewPool(queue, registry, cfg.Workers, m, log.Named("worker"))
	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()

	service := ingestion.NewService(st.uploads, st.logs, cfg.IndividualSchema, m)

	mux := http.NewServeMux()
	ingestion.NewHTTPHandler(service, registry, workflow.UploadWorkflowName).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      corsHandler.Handler(middleware.RequestID(auth.Middleware(middleware.LoggingMiddleware(mux)))),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting http server",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("storage", cfg.Storage),
			zap.String("queue", cfg.QueueDriver),
			zap.Int("workers", cfg.Workers),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	poolStopped := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-poolDone:
		poolStopped = true
		if err != nil {
			return fmt.Errorf("worker pool: %w", err)
		}
	}
	log.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if !poolStopped {
		select {
		case err := <-poolDone:
			if err != nil {
				log.Error("worker pool stopped with error", zap.Error(err))
			}
		case <-shutdownCtx.Done():
			log.Warn("worker pool did not drain before shutdown timeout")
		}
	}

	log.Info("server exited")
	return nil
}

func openStores(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		store := memory.NewStore()
		return stores{
			uploads:   store,
			commits:   store,
			locations: store,
			logs:      store.ValidationLog(),
			close:     func() {},
		}, nil
	}

	if err := db.RunMigrations(cfg.Database, log); err != nil {
		return stores{}, fmt.Errorf("failed to run migrations: %w", err)
	}
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return stores{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	uploads := repository.NewUploadRepository(conn.Pool)
	return stores{
		uploads:   uploads,
		commits:   uploads,
		locations: repository.NewLocationRepository(conn.Pool),
		logs:      repository.NewValidationLogRepository(conn.Pool),
		close:     conn.Close,
	}, nil
}

func openQueue(ctx context.Context, cfg config.AppConfig) (workflow.Queue, error) {
	if cfg.QueueDriver == config.QueueRedis {
		client, err := workflow.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return workflow.NewRedisQueue(client, cfg.QueueName), nil
	}
	return workflow.NewMemoryQueue(cfg.QueueBuffer), nil
}
