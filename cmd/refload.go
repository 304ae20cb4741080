package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/geocode-pipeline/internal/ref"
)

var refloadCmd = &cobra.Command{
	Use:   "refload",
	Short: "Import GeoNames postal reference data",
	Long:  "Downloads the GeoNames postal code dataset for a country and upserts it into the verified_addresses reference table used for distance validation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		loader := ref.NewLoader(s.Pool(), nil, cfg.Ref.TempDir)

		file, _ := cmd.Flags().GetString("file")
		if file != "" {
			n, err := loader.ImportFile(ctx, file)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d postal record(s) from %s\n", n, file)
			return nil
		}

		country, _ := cmd.Flags().GetString("country")
		if country == "" {
			country = cfg.Ref.Country
		}

		n, err := loader.ImportCountry(ctx, country)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d postal record(s) for %s\n", n, country)
		return nil
	},
}

func init() {
	refloadCmd.Flags().String("country", "", "two-letter country code (default from config)")
	refloadCmd.Flags().String("file", "", "import from a local GeoNames TSV file instead of downloading")
	rootCmd.AddCommand(refloadCmd)
}
