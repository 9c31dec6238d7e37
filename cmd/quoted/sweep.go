package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Compare every pending quote whose window has closed, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		// Unregistered metrics: a one-shot run has no scrape endpoint.
		a, err := newApp(cfg, db, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		log.Info().Int("compared", n).Msg("sweep complete")
		fmt.Fprintf(cmd.OutOrStdout(), "compared %d quote(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
