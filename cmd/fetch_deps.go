package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg"
	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/store"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks native dependencies",
	Long: `Downloads and unpacks the prebuilt native libraries listed in DEPS.yml
(the solver's SUNDIALS build among them). Dependencies that are already
up to date are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading config")
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		depCfg, cfgData, err := pkg.LoadDepConfig(cfg.DepsFile)
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		defer db.Close()

		pkg.PrintTask("Downloading dependencies")
		changes, err := pkg.FetchDeps(depCfg, db, cfg.ProjectRoot, update)
		if err != nil {
			return err
		}

		if update && len(changes) > 0 {
			pkg.PrintTask("Updating DEPS.yml")
			err = pkg.UpdateChecksums(cfg.DepsFile, cfgData, depCfg, changes)
			if err != nil {
				return err
			}
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "Update checksums")
}
