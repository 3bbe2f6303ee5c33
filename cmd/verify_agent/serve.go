package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/config"
	"github.com/jonathan/onboarding-verifier/internal/server"
	"github.com/jonathan/onboarding-verifier/internal/server/ratelimit"
	"github.com/jonathan/onboarding-verifier/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the intake and review API. With the memory queue driver the worker pool
runs in the same process, which is convenient for local development.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if servePort > 0 {
		a.cfg.Server.Port = servePort
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	intakeSvc, err := a.intakeService(ctx)
	if err != nil {
		return err
	}
	reviewSvc, err := a.reviewService(ctx)
	if err != nil {
		return err
	}
	database, err := a.database(ctx)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:            a.cfg.Server.Port,
		MaxUploadSize:   intakeSvc.MaxSize(),
		ShutdownTimeout: time.Duration(a.cfg.Server.ShutdownTimeout),
	}, server.Deps{
		Intake:    intakeSvc,
		Documents: database,
		Reviews:   reviewSvc,
		Tokens:    server.NewJWTService(jwtConfig).AsTokenValidator(),
		Limiter:   ratelimit.NewLimiter(ratelimit.LoadConfig()),
		Health:    database.Ping,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var pool *worker.Pool
	if a.cfg.Queue.Driver == config.QueueMemory {
		if pool, err = a.workerPool(ctx); err != nil {
			return err
		}
	}
	q, err := a.jobQueue()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if pool != nil {
		a.logger.Info("running embedded workers", zap.Int("workers", pool.Size))
		g.Go(func() error { return pool.Run(gctx, q) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
