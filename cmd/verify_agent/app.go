package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/config"
	"github.com/jonathan/onboarding-verifier/internal/db"
	"github.com/jonathan/onboarding-verifier/internal/extraction"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/llm"
	"github.com/jonathan/onboarding-verifier/internal/logging"
	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/quality"
	"github.com/jonathan/onboarding-verifier/internal/queue"
	"github.com/jonathan/onboarding-verifier/internal/review"
	"github.com/jonathan/onboarding-verifier/internal/storage"
	"github.com/jonathan/onboarding-verifier/internal/validation"
	"github.com/jonathan/onboarding-verifier/internal/verification"
	"github.com/jonathan/onboarding-verifier/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app lazily builds the components a command needs and closes them in reverse order.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *db.DB
	artifacts storage.ArtifactStore
	queue     queue.Queue
	notifier  notify.Notifier
	llm       llm.Client

	closers []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) database(ctx context.Context) (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required (set DATABASE_URL or database_url in the config file)")
	}
	database, err := db.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = database
	a.closers = append(a.closers, database.Close)
	return database, nil
}

func (a *app) artifactStore(ctx context.Context) (storage.ArtifactStore, error) {
	if a.artifacts != nil {
		return a.artifacts, nil
	}
	store, err := storage.Open(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	a.artifacts = store
	return store, nil
}

func (a *app) jobQueue() (queue.Queue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	var q queue.Queue
	switch a.cfg.Queue.Driver {
	case config.QueueMemory:
		q = queue.NewMemoryQueue()
	default:
		rq, err := queue.NewRabbitQueue(a.cfg.Queue.URL, a.cfg.Queue.Name, a.logger)
		if err != nil {
			return nil, err
		}
		q = rq
	}
	a.queue = q
	a.closers = append(a.closers, func() {
		if err := q.Close(); err != nil {
			a.logger.Warn("failed to close queue", zap.Error(err))
		}
	})
	return q, nil
}

// notifications fans out to in-app rows, optional redis push, and the log.
func (a *app) notifications(ctx context.Context) (notify.Notifier, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	database, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	channels := []notify.Notifier{notify.NewPostgresChannel(database)}

	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unavailable; realtime push disabled", zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
			_ = client.Close()
		} else {
			channels = append(channels, notify.NewRedisChannel(client, a.cfg.Redis.Prefix))
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}
	channels = append(channels, notify.NewLogChannel(a.logger))

	a.notifier = notify.Safe(notify.Fanout(channels...), a.logger)
	return a.notifier, nil
}

func (a *app) llmClient(ctx context.Context) (llm.Client, error) {
	if a.llm != nil {
		return a.llm, nil
	}
	if a.cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("API key is required (set GEMINI_API_KEY environment variable or llm.api_key)")
	}
	client, err := llm.NewClient(ctx, a.cfg.LLM.ClientConfig(), a.cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client, nil
}

func (a *app) intakeService(ctx context.Context) (*intake.Service, error) {
	artifacts, err := a.artifactStore(ctx)
	if err != nil {
		return nil, err
	}
	database, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	q, err := a.jobQueue()
	if err != nil {
		return nil, err
	}
	return intake.NewService(artifacts, database, q, a.cfg.Server.MaxUploadSize, a.logger)
}

func (a *app) reviewService(ctx context.Context) (*review.Service, error) {
	database, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifications(ctx)
	if err != nil {
		return nil, err
	}
	return review.NewService(database, database, notifier, a.logger), nil
}

func (a *app) pipeline(ctx context.Context) (*verification.Pipeline, error) {
	artifacts, err := a.artifactStore(ctx)
	if err != nil {
		return nil, err
	}
	database, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifications(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.llmClient(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := quality.New(a.cfg.LLM.QualityMode, client, llm.ParseModelTier(a.cfg.LLM.QualityTier), a.logger)
	if err != nil {
		return nil, err
	}

	return verification.New(verification.Deps{
		Artifacts:  artifacts,
		Gate:       gate,
		Extractor:  extraction.NewLLMExtractor(client, llm.ParseModelTier(a.cfg.LLM.ExtractionTier), a.logger),
		Validator:  validation.New(),
		Documents:  database,
		Notifier:   notifier,
		Progress:   database,
		Thresholds: a.cfg.Thresholds,
		Logger:     a.logger,
	})
}

// workerPool builds the pool that drives the pipeline from the queue.
func (a *app) workerPool(ctx context.Context) (*worker.Pool, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifications(ctx)
	if err != nil {
		return nil, err
	}
	alerter := verification.NewOperatorAlerter(notifier, a.logger)

	return &worker.Pool{
		Size:        a.cfg.Queue.Workers,
		Policy:      a.cfg.Queue.RetryPolicy(),
		Handler:     p.Handle,
		OnExhausted: alerter.JobExhausted,
		JobTimeout:  time.Duration(a.cfg.Queue.JobTimeout),
		Logger:      a.logger,
	}, nil
}
