package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geocode-pipeline/internal/db"
)

// pipelineStats holds the counts shown by the status command and the
// status server.
type pipelineStats struct {
	TotalAddresses int            `json:"total_addresses"`
	Geocoded       map[string]int `json:"geocoded"`
	Verified       map[string]int `json:"verified"`
	Queue          map[string]int `json:"queue"`
	ReferenceRows  int            `json:"reference_rows"`
}

func collectStats(ctx context.Context, pool db.Pool) (*pipelineStats, error) {
	stats := &pipelineStats{
		Geocoded: make(map[string]int),
		Verified: make(map[string]int),
		Queue:    make(map[string]int),
	}

	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&stats.TotalAddresses)
	if err != nil {
		return nil, eris.Wrap(err, "status: count addresses")
	}

	rows, err := pool.Query(ctx, `SELECT geocoded, COUNT(*) FROM addresses GROUP BY geocoded`)
	if err != nil {
		return nil, eris.Wrap(err, "status: geocode breakdown")
	}
	for rows.Next() {
		var status int
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "status: scan geocode breakdown")
		}
		stats.Geocoded[geocodeStatusLabel(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "status: iterate geocode breakdown")
	}

	rows, err = pool.Query(ctx, `SELECT verified, COUNT(*) FROM addresses GROUP BY verified`)
	if err != nil {
		return nil, eris.Wrap(err, "status: verify breakdown")
	}
	for rows.Next() {
		var status int
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "status: scan verify breakdown")
		}
		stats.Verified[verifyStatusLabel(status)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "status: iterate verify breakdown")
	}

	rows, err = pool.Query(ctx, `SELECT status, COUNT(*) FROM geocode_queue GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "status: queue breakdown")
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "status: scan queue breakdown")
		}
		stats.Queue[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "status: iterate queue breakdown")
	}

	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM verified_addresses`).Scan(&stats.ReferenceRows)
	if err != nil {
		return nil, eris.Wrap(err, "status: count reference rows")
	}

	return stats, nil
}

func geocodeStatusLabel(v int) string {
	switch v {
	case 0:
		return "not_geocoded"
	case 1:
		return "geocoded"
	case 2:
		return "geocoding_error"
	case 3:
		return "geocoding_refused"
	default:
		return fmt.Sprintf("unknown_%d", v)
	}
}

func verifyStatusLabel(v int) string {
	switch v {
	case 0:
		return "not_verified"
	case 1:
		return "verified"
	case 2:
		return "verify_error"
	default:
		return fmt.Sprintf("unknown_%d", v)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline statistics",
	Long:  "Display address geocoding, verification, and queue statistics.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		stats, err := collectStats(ctx, s.Pool())
		if err != nil {
			return err
		}

		fmt.Println("=== Pipeline Status ===")
		fmt.Printf("Total addresses:  %d\n", stats.TotalAddresses)
		fmt.Printf("Reference rows:   %d\n", stats.ReferenceRows)
		fmt.Println()

		if len(stats.Geocoded) > 0 {
			fmt.Println("Geocode status:")
			for _, label := range []string{"not_geocoded", "geocoded", "geocoding_error", "geocoding_refused"} {
				if n, ok := stats.Geocoded[label]; ok {
					fmt.Printf("  %-18s %d\n", label, n)
				}
			}
			fmt.Println()
		}

		if len(stats.Verified) > 0 {
			fmt.Println("Verify status:")
			for _, label := range []string{"not_verified", "verified", "verify_error"} {
				if n, ok := stats.Verified[label]; ok {
					fmt.Printf("  %-18s %d\n", label, n)
				}
			}
			fmt.Println()
		}

		if len(stats.Queue) > 0 {
			fmt.Println("Queue status:")
			for _, label := range []string{"pending", "processing", "done", "error"} {
				if n, ok := stats.Queue[label]; ok {
					fmt.Printf("  %-18s %d\n", label, n)
				}
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
