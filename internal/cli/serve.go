package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/ventsim/internal/casefile"
	"github.com/rescale/ventsim/internal/config"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/ingest"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/pipeline"
	"github.com/rescale/ventsim/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		bind     string
		port     int
		watchDir string
		casePath string
		noLog    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one case session over HTTP",
		Long: `Start an HTTP server that holds one case session. Parameters and geometry
are set through the API, stages are started with POST /api/stages/{stage}/run,
and GET /api/events streams progress as server-sent events.

With --watch (or [server] watch_dir) the surface files in a drop folder
replace the case geometry whenever the folder changes.

A JSON log of the session is written to the log directory unless --no-log-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bind") {
				cfg.Server.Bind = bind
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if watchDir != "" {
				cfg.Server.WatchDir = watchDir
			}

			bus := events.NewEventBus(1024)
			defer bus.Close()

			logger := logging.NewLogger("server", bus)
			if !noLog {
				logFile, err := openLogFile()
				if err != nil {
					logger.Warn().Err(err).Msg("JSON log file disabled")
				} else {
					defer logFile.Close()
					logger.AddFile(logFile)
					logger.Info().Str("path", logFile.Name()).Msg("Writing JSON log")
				}
			}

			var c *casefile.Case
			if casePath != "" {
				if c, err = casefile.Load(casePath); err != nil {
					return err
				}
			}

			ctrl, err := newSession(cfg, sessionOptions{Bus: bus, Logger: logger, Case: c})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			notifier, err := newNotifier(cfg, ctrl.Workspace().Name(), logger)
			if err != nil {
				return err
			}
			if notifier != nil {
				go notifier.Run(ctx, bus)
			}

			store, err := newStore(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}

			if cfg.Server.WatchDir != "" {
				watcher, err := ingest.NewWatcher(cfg.Server.WatchDir, ctrl, ingest.Options{
					Busy:   ingest.IsBusy(pipeline.ErrStageBusy),
					Logger: logger,
				})
				if err != nil {
					return err
				}
				go func() {
					if err := watcher.Run(ctx); err != nil {
						logger.Error().Err(err).Msg("Drop folder watcher stopped")
					}
				}()
			}

			srv, err := server.New(server.Config{
				Bind: cfg.Server.Bind,
				Port: cfg.Server.Port,
			}, server.Options{
				Controller: ctrl,
				EventBus:   bus,
				Store:      store,
				ObjectKey:  cfg.Export.ObjectKey,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Serving case %s on http://%s\n", ctrl.Workspace().Name(), srv.Addr())
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Bind address (overrides [server] bind)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port (overrides [server] port)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Drop folder for geometry files")
	cmd.Flags().StringVar(&casePath, "case", "", "Case file the session starts with")
	cmd.Flags().BoolVar(&noLog, "no-log-file", false, "Do not write a JSON log file")

	return cmd
}

func openLogFile() (*os.File, error) {
	if err := config.EnsureLogDirectory(); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("serve-%s.log", time.Now().Format("20060102-150405"))
	return os.OpenFile(filepath.Join(config.LogDirectory(), name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}
