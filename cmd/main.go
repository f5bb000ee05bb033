package cmd

import (
	"github.com/spf13/cobra"

	pipecmd "github.com/pihop/means/pkg/pipeline/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "mtool",
	Short: "Build tools for the means project",
	Long: `This command bundles the tools that build and test the means package.
This includes tasks to check out the solver sources, set up the virtual
environment, download native dependencies and run the test pipeline.`,
}

func init() {
	rootCmd.AddCommand(pipecmd.RunCmd)
	rootCmd.AddCommand(pipecmd.ConfigureCmd)
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
