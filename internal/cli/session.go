package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rescale/ventsim/internal/casefile"
	"github.com/rescale/ventsim/internal/config"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/export"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/notify"
	"github.com/rescale/ventsim/internal/pipeline"
	"github.com/rescale/ventsim/internal/progress"
	"github.com/rescale/ventsim/internal/scheduler"
	"github.com/rescale/ventsim/internal/viz"
)

// sessionOptions are the per-command parts of a controller.
type sessionOptions struct {
	Bus      *events.EventBus
	Logger   *logging.Logger
	Sink     viz.Sink
	Reporter func(stage scheduler.Stage, runID string) progress.Reporter
	Case     *casefile.Case
}

// newSession creates a controller from the configuration and, when given, a
// case file whose parameters and geometry it starts with.
func newSession(cfg *config.Config, opts sessionOptions) (*pipeline.Controller, error) {
	var params *models.CaseParameters
	var geometry []models.GeometryFile
	if opts.Case != nil {
		params = &opts.Case.Parameters
		var err error
		geometry, err = opts.Case.LoadGeometry()
		if err != nil {
			return nil, err
		}
	}

	ctrl, err := pipeline.New(pipeline.Options{
		TemplateDir:   cfg.Case.TemplateDir,
		WorkRoot:      cfg.Case.WorkRoot,
		KeepWorkspace: cfg.Case.KeepWorkspace,
		MinFreeBytes:  int64(cfg.Case.MinFreeMB) << 20,
		Toolset:       cfg.Toolset(),
		Decomposition: pipeline.Decomposition{
			Processors: cfg.Solver.Processors,
			Method:     cfg.Solver.DecompositionMethod,
		},
		Sink:       opts.Sink,
		EventBus:   opts.Bus,
		Logger:     opts.Logger,
		Reporter:   opts.Reporter,
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create case session: %w", err)
	}
	if err := ctrl.TemplateError(); err != nil {
		opts.Logger.Warn().Err(err).Msg("Stages that need the broken template will fail")
	}

	if len(geometry) > 0 {
		if err := ctrl.ReplaceGeometry(geometry); err != nil {
			ctrl.Close()
			return nil, err
		}
	}
	return ctrl, nil
}

// newNotifier returns nil when no webhook is configured.
func newNotifier(cfg *config.Config, caseName string, logger *logging.Logger) (*notify.Notifier, error) {
	if cfg.Notify.WebhookURL == "" {
		return nil, nil
	}
	ncfg := notify.DefaultConfig(cfg.Notify.WebhookURL)
	ncfg.Timeout = time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
	return notify.NewNotifier(ncfg, caseName, logger)
}

// newStore returns nil when no export backend is configured.
func newStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, reporter progress.Reporter) (export.Store, error) {
	if cfg.Export.Backend == "" {
		return nil, nil
	}
	return export.New(ctx, cfg.Export, export.Options{Logger: logger, Reporter: reporter})
}

// archiveKey is the object key of a case export made now.
func archiveKey(cfg *config.Config, caseName string) string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return cfg.Export.ObjectKey(fmt.Sprintf("%s-%s.tar.gz", strings.TrimSpace(caseName), stamp))
}
