package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/store"
)

const runDurationPrecision = 10 * time.Millisecond

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Shows the most recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.Runs(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		for _, run := range runs {
			fmt.Printf("%s  %-20s %-8s %s\n",
				run.When.Format("2006-01-02 15:04:05"), run.Task, run.Status, run.Duration.Round(runDurationPrecision))
		}

		revisions, err := db.Revisions()
		if err != nil {
			return err
		}

		if len(revisions) > 0 {
			fmt.Println("\nCheckout revisions:")
			for name, rev := range revisions {
				fmt.Printf("  %s: %s\n", name, rev)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "l", 20, "number of runs to show")
}
