package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/desertwitch/mirrord/internal/configuration"
	"github.com/desertwitch/mirrord/internal/engine"
	"github.com/desertwitch/mirrord/internal/filesystem"
	"github.com/desertwitch/mirrord/internal/io"
	"github.com/desertwitch/mirrord/internal/plan"
	"github.com/desertwitch/mirrord/internal/scheduler"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/desertwitch/mirrord/internal/ui"
	"github.com/jonboulle/clockwork"
)

const procPath = "/proc"

// App holds the wired handlers of the application.
type App struct {
	config     *configuration.Config
	logManager *SlogManager
	logger     *slog.Logger
	clock      clockwork.Clock
	engine     *engine.Engine
	uiHandler  *ui.Handler
}

// NewApp returns a pointer to a new [App] for a validated configuration.
func NewApp(cfg *configuration.Config, logManager *SlogManager, clock clockwork.Clock) (*App, error) {
	logger := slog.New(logManager)

	osProvider := &schema.OS{}
	unixProvider := &schema.Unix{}

	fsHandler, err := filesystem.NewHandler(osProvider, unixProvider, &filesystem.FileWalker{}, cfg.Excludes...)
	if err != nil {
		return nil, fmt.Errorf("(app) failed to establish filesystem handler: %w", err)
	}

	ioOptions := io.Options{
		Threshold:         cfg.Threshold,
		SpaceFloor:        cfg.SpaceFloor,
		PreserveOwnership: cfg.PreserveOwnership,
	}
	engineOptions := engine.Options{
		JournalDir: cfg.JournalDir,
		LockDir:    cfg.LockDir,
	}

	if cfg.SpaceFloor > 0 {
		ioOptions.SpaceChecker = filesystem.NewDiskUsageChecker(unixProvider)
	}

	if cfg.SkipInUse {
		inUseChecker := filesystem.NewInUseChecker(osProvider, procPath)
		ioOptions.InUseChecker = inUseChecker
		engineOptions.InUseChecker = inUseChecker
	}

	ioHandler := io.NewHandler(fsHandler, osProvider, unixProvider, logger, ioOptions)
	planHandler := plan.NewHandler(cfg.ModifyWindow)

	return &App{
		config:     cfg,
		logManager: logManager,
		logger:     logger,
		clock:      clock,
		engine:     engine.NewEngine(osProvider, unixProvider, fsHandler, planHandler, ioHandler, clock, logger, engineOptions),
	}, nil
}

// Launch runs a single pass when once is set, otherwise passes on the
// configured interval until the context is cancelled.
func (app *App) Launch(ctx context.Context, once bool) error {
	if once {
		report := app.engine.RunPass(ctx, app.config.Source, app.config.Replica)
		if report.State != engine.StateCompleted {
			return fmt.Errorf("(app) %w: %s", ErrPassNotCompleted, report.State)
		}

		return nil
	}

	s, err := scheduler.NewScheduler(app.engine, app.clock, app.logger, app.config.Source, app.config.Replica, app.config.Interval())
	if err != nil {
		return fmt.Errorf("(app) %w", err)
	}

	app.logger.Info("Scheduler started.",
		"source", app.config.Source,
		"replica", app.config.Replica,
		"interval", app.config.Interval(),
	)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("(app) %w", err)
	}

	app.logger.Info("Scheduler stopped.")

	return nil
}

// EnableUI prepares the command-line user interface.
func (app *App) EnableUI(ctx context.Context, cancel context.CancelFunc) {
	app.uiHandler = ui.NewHandler(ctx, cancel, app.engine)
}

// LaunchUI runs the command-line user interface, routing the console logs
// into it while it is running.
func (app *App) LaunchUI(level slog.Level, restore slog.Handler) error {
	app.logManager.AddHandler(consoleHandlerName, newConsoleHandler(app.uiHandler.LogWriter, level, false))
	defer app.logManager.AddHandler(consoleHandlerName, restore)

	if err := app.uiHandler.Launch(); err != nil {
		return fmt.Errorf("(app-ui) %w", err)
	}

	return nil
}
