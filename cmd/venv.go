package cmd

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/mlog"
	pipecmd "github.com/pihop/means/pkg/pipeline/cmd"
	"github.com/pihop/means/pkg/venv"
)

var venvCmd = &cobra.Command{
	Use:   "venv",
	Short: "Creates the virtual environment and installs the requirements",
	RunE: func(cmd *cobra.Command, args []string) error {
		recreate, err := cmd.Flags().GetBool("recreate")
		if err != nil {
			return err
		}

		logger := zerolog.New(pipecmd.NewConsoleWriter())
		ctx := mlog.WithLogger(context.Background(), &logger)

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		if recreate {
			err = os.RemoveAll(cfg.VenvDir)
			if err != nil {
				return eris.Wrapf(err, "failed to remove %s", cfg.VenvDir)
			}
		}

		env, err := venv.Ensure(ctx, cfg.VenvDir, cfg.Python, cfg.PythonMinVersion)
		if err != nil {
			return err
		}

		_, err = os.Stat(cfg.Requirements)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				logger.Warn().Msgf("no requirements file at %s, skipping install", cfg.Requirements)
				return nil
			}
			return eris.Wrapf(err, "failed to check %s", cfg.Requirements)
		}

		return env.InstallRequirements(ctx, cfg.Requirements)
	},
}

func init() {
	rootCmd.AddCommand(venvCmd)
	venvCmd.Flags().Bool("recreate", false, "delete the existing environment first")
}
