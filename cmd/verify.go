package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/geocode-pipeline/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify stored states against geocoder results",
	Long:  "Geocodes a batch of unverified addresses and checks that each stored state matches the geocoder's administrative area. Mismatches are reported in a single digest.",
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

		notifier, err := buildNotifier()
		if err != nil {
			return err
		}

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = cfg.Verify.BatchSize
		}

		v := verify.New(orch, s, notifier,
			verify.WithBatchSize(batchSize),
			verify.WithEditURLBase(cfg.Verify.EditURLBase),
		)

		report, err := v.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Verification complete: %d processed, %d verified, %d mismatched, %d errored, %d skipped\n",
			report.Processed, report.Verified, report.Mismatched, report.Errored, report.Skipped)
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int("batch-size", 0, "addresses per run (default from config)")
	rootCmd.AddCommand(verifyCmd)
}
