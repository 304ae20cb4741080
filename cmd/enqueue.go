package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue ungeocoded addresses for geocoding",
	Long:  "Adds addresses that have never been geocoded to the geocode work queue.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		q := queue.New(s.Pool(), s, nil)

		addressID, _ := cmd.Flags().GetInt64("address-id")
		if addressID > 0 {
			if err := q.Enqueue(ctx, addressID); err != nil {
				return err
			}
			fmt.Printf("Enqueued address %d\n", addressID)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		addrs, err := s.ListUngeocoded(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "enqueue: list ungeocoded addresses")
		}
		if len(addrs) == 0 {
			fmt.Println("No ungeocoded addresses found")
			return nil
		}

		ids := make([]int64, len(addrs))
		for i, a := range addrs {
			ids[i] = a.ID
		}
		if err := q.EnqueueBatch(ctx, ids); err != nil {
			return err
		}

		zap.L().Info("addresses enqueued", zap.Int("count", len(ids)))
		fmt.Printf("Enqueued %d address(es)\n", len(ids))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().Int("limit", 1000, "maximum number of addresses to enqueue")
	enqueueCmd.Flags().Int64("address-id", 0, "enqueue a single address by id")
	rootCmd.AddCommand(enqueueCmd)
}
