package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pihop/means/pkg/config"
	"github.com/pihop/means/pkg/mlog"
	"github.com/pihop/means/pkg/pipeline"
	pipecmd "github.com/pihop/means/pkg/pipeline/cmd"
)

// watchDebounce collects the burst of events an editor save produces into a
// single re-run.
const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <task>",
	Short: "Re-runs a task whenever one of its inputs changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return eris.New("expected exactly one task name")
		}
		taskName := args[0]

		logger := zerolog.New(pipecmd.NewConsoleWriter())
		ctx := mlog.WithLogger(context.Background(), &logger)
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}

		taskList, _, err := pipeline.Parse(ctx, cfg.TaskScript, cfg.ProjectRoot, nil, true)
		if err != nil {
			return err
		}

		task, ok := taskList[taskName]
		if !ok {
			return eris.Errorf("Task %s not found", taskName)
		}

		inputs, err := pipeline.TaskInputs(ctx, cfg.ProjectRoot, task)
		if err != nil {
			return err
		}

		if len(inputs) == 0 {
			return eris.Errorf("Task %s declares no inputs to watch", taskName)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return eris.Wrap(err, "failed to create watcher")
		}
		defer watcher.Close()

		// watch the parent directories so newly created inputs are seen too
		watched := map[string]bool{}
		for _, input := range inputs {
			dir := filepath.Dir(input)
			if !watched[dir] {
				err = watcher.Add(dir)
				if err != nil {
					return eris.Wrapf(err, "failed to watch %s", dir)
				}
				watched[dir] = true
			}
		}

		logger.Info().Msgf("watching %d directories for task %s", len(watched), taskName)

		runOpts := pipeline.RunOptions{Force: true}
		err = pipeline.RunTask(ctx, cfg.ProjectRoot, taskName, taskList, runOpts)
		if err != nil {
			logger.Error().Err(err).Msgf("Failed task %s:", taskName)
		}

		var timer *time.Timer
		pending := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn().Err(err).Msg("watch error")
			case <-pending:
				err = pipeline.RunTask(ctx, cfg.ProjectRoot, taskName, taskList, runOpts)
				if err != nil {
					logger.Error().Err(err).Msgf("Failed task %s:", taskName)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
