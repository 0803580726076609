package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/config"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "varslingctl",
	Short: "Ops tooling for the external notice dispatch engine",
	Long: `varslingctl operates the external notice dispatch engine.

Toggle the emergency brake, inspect queue depths, and read dispatch stats.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB connects using the daemon's config; the CLI talks straight to the
// shared store, not to a running engine instance.
func openDB(cmd *cobra.Command) (*postgres.DB, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return postgres.New(context.Background(), cfg.DatabaseURL)
}
