package main

import (
	"fmt"

	"github.com/jonathan/onboarding-verifier/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume verification jobs from the queue",
	Long:  "Run a pool of workers that take document jobs off RabbitMQ and verify them. SIGINT/SIGTERM stop intake; jobs in flight finish first.",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "Number of concurrent workers (overrides queue.workers)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Queue.Driver == config.QueueMemory {
		return fmt.Errorf("the memory queue only lives inside one process; use 'serve' to run embedded workers")
	}
	if workerCount > 0 {
		a.cfg.Queue.Workers = workerCount
	}

	ctx, stop := signalContext()
	defer stop()

	pool, err := a.workerPool(ctx)
	if err != nil {
		return err
	}
	q, err := a.jobQueue()
	if err != nil {
		return err
	}

	a.logger.Info("worker starting",
		zap.Int("workers", pool.Size),
		zap.String("queue", a.cfg.Queue.Name),
		zap.Int("max_attempts", pool.Policy.MaxAttempts))
	if err := pool.Run(ctx, q); err != nil {
		return fmt.Errorf("worker pool failed: %w", err)
	}
	a.logger.Info("worker stopped")
	return nil
}
