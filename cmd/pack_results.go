package cmd

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg"
	"github.com/pihop/means/pkg/config"
)

var packResultsCmd = &cobra.Command{
	Use:   "pack-results [dir] [archive]",
	Short: "Bundles the pipeline output files into a single .mar artifact",
	Long: `Packs the test reports, lint output, coverage data and docs from a
pipeline run into one compressed archive, i.e. for CI artifact upload.
Without arguments, the configured output directory is packed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 2 {
			return eris.New("expected at most two arguments")
		}

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		dir := cfg.OutputDir
		if len(args) > 0 {
			dir = args[0]
		}

		archive := filepath.Join(cfg.ProjectRoot, "means-results.mar")
		if len(args) > 1 {
			archive = args[1]
		}

		pkg.PrintTask("Packing " + dir)
		writer, err := pkg.NewResultWriter(archive)
		if err != nil {
			return err
		}

		err = writer.AddTree(dir)
		if err != nil {
			writer.Close()
			return err
		}

		err = writer.Close()
		if err != nil {
			return err
		}

		pkg.PrintSubtask("Wrote " + archive)
		return nil
	},
}

var unpackResultsCmd = &cobra.Command{
	Use:   "unpack-results <archive> [dest]",
	Short: "Extracts a .mar result archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return eris.New("expected an archive path and an optional destination")
		}

		dest := "."
		if len(args) > 1 {
			dest = args[1]
		}

		reader, err := pkg.OpenResultArchive(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return reader.Extract(dest)
	},
}

func init() {
	rootCmd.AddCommand(packResultsCmd)
	rootCmd.AddCommand(unpackResultsCmd)
}
