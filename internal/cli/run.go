package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/ventsim/internal/casefile"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/notify"
	"github.com/rescale/ventsim/internal/pipeline"
	"github.com/rescale/ventsim/internal/progress"
	"github.com/rescale/ventsim/internal/scheduler"
	"github.com/rescale/ventsim/internal/viz"
)

func newRunCmd() *cobra.Command {
	var (
		meshOnly  bool
		keep      bool
		doExport  bool
		viewDir   string
		noWebhook bool
	)

	cmd := &cobra.Command{
		Use:   "run <case.yaml>",
		Short: "Mesh the environment and run the wind simulation for a case file",
		Long: `Run both stages for a case file: the environment stage meshes the domain
around the geometry, then the simulation stage solves the wind flow.

Use --mesh-only to stop after the environment stage, --export to upload the
finished case to the configured storage backend, and --view-dir to keep a
ParaView script that reproduces the result view.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			ctx := GetContext()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if keep {
				cfg.Case.KeepWorkspace = true
			}
			c, err := casefile.Load(args[0])
			if err != nil {
				return err
			}

			bus := events.NewEventBus(256)
			defer bus.Close()
			completions := bus.Subscribe(events.EventComplete)

			var reporter func(scheduler.Stage, string) progress.Reporter
			var ui *progress.StageUI
			if meshOnly {
				bar := progress.NewCLIProgress()
				reporter = func(scheduler.Stage, string) progress.Reporter { return bar }
			} else {
				ui = progress.NewStageUI()
				logger.SetOutput(ui.Writer())
				reporter = func(stage scheduler.Stage, _ string) progress.Reporter {
					return ui.Bar(string(stage))
				}
			}

			sink := viz.Multi{viz.NewEventSink(bus, logger)}
			if viewDir != "" {
				sink = append(sink, viz.NewScriptSink(viewDir))
			}

			ctrl, err := newSession(cfg, sessionOptions{
				Bus:      bus,
				Logger:   logger,
				Sink:     sink,
				Reporter: reporter,
				Case:     c,
			})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			var notifier *notify.Notifier
			if !noWebhook {
				notifier, err = newNotifier(cfg, ctrl.Workspace().Name(), logger)
				if err != nil {
					return err
				}
			}

			stages := []scheduler.Stage{scheduler.Environment, scheduler.Simulation}
			if meshOnly {
				stages = stages[:1]
			}
			runErr := runStages(ctx, ctrl, stages)
			if ui != nil {
				ui.Wait()
			}
			if notifier != nil {
				deliverCompletions(ctx, notifier, completions)
			}
			if runErr != nil {
				return runErr
			}

			if doExport {
				store, err := newStore(ctx, cfg, logger, progress.NewCLIByteProgress())
				if err != nil {
					return err
				}
				if store == nil {
					return errors.New("--export needs an [export] backend in the configuration")
				}
				location, err := ctrl.Export(ctx, store, archiveKey(cfg, ctrl.Workspace().Name()))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Case exported to %s\n", location)
			}

			if cfg.Case.KeepWorkspace {
				fmt.Fprintf(cmd.OutOrStdout(), "Case directory: %s\n", ctrl.Workspace().Dir())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&meshOnly, "mesh-only", false, "Stop after the environment stage")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the case directory after the run")
	cmd.Flags().BoolVar(&doExport, "export", false, "Upload the finished case to the configured backend")
	cmd.Flags().StringVar(&viewDir, "view-dir", "", "Directory for a ParaView script of the result view")
	cmd.Flags().BoolVar(&noWebhook, "no-webhook", false, "Do not send completion webhooks")

	return cmd
}

// runStages runs each stage in order, stopping at the first refusal or
// failure.
func runStages(ctx context.Context, ctrl *pipeline.Controller, stages []scheduler.Stage) error {
	for _, stage := range stages {
		task, ok := ctrl.Run(ctx, stage)
		if !ok {
			if err := ctrl.Readiness(stage); err != nil {
				return fmt.Errorf("%s stage not started: %w", stage, err)
			}
			return fmt.Errorf("%s stage not started", stage)
		}
		if err := task.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				GetLogger().Warn().Str("stage", string(stage)).Msg("Waiting for the running stage to finish")
				ctrl.Wait()
			}
			return fmt.Errorf("%s stage failed: %w", stage, err)
		}
	}
	return nil
}

// deliverCompletions sends a webhook for every completion already published.
func deliverCompletions(ctx context.Context, n *notify.Notifier, ch <-chan events.Event) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if complete, ok := evt.(*events.CompleteEvent); ok {
				if err := n.StageComplete(ctx, complete); err != nil {
					GetLogger().Warn().Err(err).Msg("Failed to send completion webhook")
				}
			}
		default:
			return
		}
	}
}
