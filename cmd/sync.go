package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/mlog"
	pipecmd "github.com/pihop/means/pkg/pipeline/cmd"
	"github.com/pihop/means/pkg/store"
	"github.com/pihop/means/pkg/vcs"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Updates the external source checkouts",
	Long: `Brings every checkout listed in mtool.yml up to date. Missing working
copies are checked out fresh; failed updates of existing copies only
produce a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zerolog.New(pipecmd.NewConsoleWriter())
		ctx := mlog.WithLogger(context.Background(), &logger)

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		if len(cfg.Checkouts) == 0 {
			logger.Warn().Msg("no checkouts configured")
			return nil
		}

		db, err := store.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, co := range cfg.Checkouts {
			result, err := vcs.Sync(ctx, co)
			if err != nil {
				return err
			}

			if result.Revision != "" {
				err = db.SetRevision(co.Name, result.Revision)
				if err != nil {
					logger.Warn().Err(err).Msgf("failed to record revision for %s", co.Name)
				}
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
