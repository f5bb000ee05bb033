// Package cmd implements the CLI commands that drive the pipeline package.
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/mlog"
	"github.com/pihop/means/pkg/pipeline"
	"github.com/pihop/means/pkg/store"
)

const cacheName = ".mtool-cache"

func splitTaskArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

func newLogContext() (context.Context, zerolog.Logger) {
	logger := zerolog.New(NewConsoleWriter())
	return mlog.WithLogger(context.Background(), &logger), logger
}

// loadTasks returns the project's task list, either from the configure cache
// or by evaluating the task script. Passing options always forces a fresh
// evaluation.
func loadTasks(ctx context.Context, cfg *config.Config, options map[string]string) (pipeline.TaskList, error) {
	cachePath := cfg.ProjectRoot + string(os.PathSeparator) + cacheName

	if len(options) == 0 {
		cacheInfo, err := os.Stat(cachePath)
		if err == nil {
			scriptInfo, err := os.Stat(cfg.TaskScript)
			if err == nil && cacheInfo.ModTime().After(scriptInfo.ModTime()) {
				cachedOptions, taskList, err := pipeline.ReadCache(cachePath)
				if err == nil {
					mlog.Log(ctx).Debug().Msgf("using cached tasks for options %v", cachedOptions)
					return taskList, nil
				}

				mlog.Log(ctx).Warn().Err(err).Msg("failed to read the configure cache, re-parsing")
			}
		}
	}

	taskList, _, err := pipeline.Parse(ctx, cfg.TaskScript, cfg.ProjectRoot, options, true)
	return taskList, err
}

// RunCmd parses the project's task script and executes the given tasks.
var RunCmd = &cobra.Command{
	Use:   "run [task...] [option=value...]",
	Short: "Runs tasks from the project's tasks.star file",
	Long: `This command parses the project's tasks.star file and executes the given
tasks. Without arguments, it lists the available tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		taskArgs, options := splitTaskArgs(args)
		ctx, logger := newLogContext()

		cfg, err := config.Load(nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load the project configuration")
		}

		taskList, err := loadTasks(ctx, cfg, options)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse tasks")
		}

		if len(taskArgs) == 0 {
			fmt.Println("Available tasks:")
			maxNameLen := 0
			sortedNames := make([]string, 0)
			for _, task := range taskList {
				nameLen := len(task.Short)
				if nameLen > maxNameLen {
					maxNameLen = nameLen
				}

				sortedNames = append(sortedNames, task.Short)
			}

			sort.Strings(sortedNames)

			lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
			for _, name := range sortedNames {
				fmt.Printf(lineFmt, name+":", taskList[name].Desc)
			}

			return nil
		}

		db, err := store.Open(cfg.StateFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open the state database")
		}
		defer db.Close()

		opts := pipeline.RunOptions{
			DryRun:   dryRun,
			Force:    force,
			CanSkip:  true,
			Recorder: db,
		}

		for _, name := range taskArgs {
			_, ok := taskList[name]
			if !ok {
				logger.Fatal().Msgf("Task %s not found", name)
			}

			err = pipeline.RunTask(ctx, cfg.ProjectRoot, name, taskList, opts)
			if err != nil {
				logger.Fatal().Err(err).Msgf("Failed task %s:", name)
			}
		}

		return nil
	},
}

// ConfigureCmd evaluates the task script with the given option values and
// caches the result so later runs don't have to re-evaluate the script.
var ConfigureCmd = &cobra.Command{
	Use:   "configure [option=value...]",
	Short: "Evaluates the task script and caches the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitTaskArgs(args)
		ctx, logger := newLogContext()

		if len(taskArgs) > 0 {
			logger.Fatal().Msgf("Unexpected arguments: %s", strings.Join(taskArgs, " "))
		}

		cfg, err := config.Load(nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load the project configuration")
		}

		taskList, scriptOptions, err := pipeline.Parse(ctx, cfg.TaskScript, cfg.ProjectRoot, options, true)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse tasks")
		}

		for name := range options {
			if _, ok := scriptOptions[name]; !ok {
				logger.Warn().Msgf("Option %s is not declared by the task script", name)
			}
		}

		cachePath := cfg.ProjectRoot + string(os.PathSeparator) + cacheName
		err = pipeline.WriteCache(cachePath, options, taskList)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to write the configure cache")
		}

		mlog.Log(ctx).Info().Msgf("cached %d tasks", len(taskList))
		return nil
	},
}

func init() {
	RunCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RunCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed tasks even if they don't have to run")
}
