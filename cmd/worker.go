package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/geocoder"
	"github.com/sells-group/geocode-pipeline/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process the geocode work queue",
	Long:  "Claims pending queue rows, geocodes each address with the multi-attempt orchestrator, and records the results. Runs until interrupted unless --once is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		orch, err := buildOrchestrator(s)
		if err != nil {
			return err
		}
		job := geocoder.NewJob(orch, s)

		q := queue.New(s.Pool(), s, job,
			queue.WithBatchSize(cfg.Queue.BatchSize),
			queue.WithConcurrency(cfg.Queue.Concurrency),
			queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		)

		once, _ := cmd.Flags().GetBool("once")

		if once {
			n, err := q.ProcessBatch(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d queue row(s)\n", n)
			return nil
		}

		interval, err := time.ParseDuration(cfg.Queue.PollInterval)
		if err != nil {
			return eris.Wrap(err, "queue.poll_interval")
		}

		log := zap.L().With(zap.String("command", "worker"))
		log.Info("worker started",
			zap.Int("batch_size", cfg.Queue.BatchSize),
			zap.Int("concurrency", cfg.Queue.Concurrency),
			zap.Duration("poll_interval", interval),
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			n, err := q.ProcessBatch(ctx)
			if err != nil {
				log.Error("batch failed", zap.Error(err))
			}
			if n > 0 {
				// Drain without waiting while work remains.
				continue
			}

			select {
			case <-ctx.Done():
				log.Info("worker stopping")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	workerCmd.Flags().Bool("once", false, "process a single batch and exit")
	rootCmd.AddCommand(workerCmd)
}
