// Package main implements mirrord, keeping a replica directory tree
// convergent with a source directory tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/desertwitch/mirrord/internal/configuration"
	"github.com/desertwitch/mirrord/internal/schema"
	"github.com/desertwitch/mirrord/internal/validation"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	stackTraceBufMax = 1 << 24
	uiPollInterval   = 10 * time.Millisecond
)

//nolint:gochecknoglobals
var (
	ExitCode = 0
	Version  string
)

type flagValues struct {
	configFile   string
	interval     int
	logFile      string
	threshold    int
	excludes     []string
	journalDir   string
	lockDir      string
	modifyWindow time.Duration
	once         bool
	ui           bool
	debug        bool
}

func setupSignalHandlers(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()

	sigChan2 := make(chan os.Signal, 1)
	signal.Notify(sigChan2, syscall.SIGUSR1)
	go func() {
		for range sigChan2 {
			buf := make([]byte, stackTraceBufMax)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()
}

func newRootCommand() *cobra.Command {
	fv := &flagValues{}

	cmd := &cobra.Command{
		Use:     "mirrord [flags] <source> <replica>",
		Short:   "Keep a replica directory convergent with a source directory",
		Version: Version,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 2 { //nolint:mnd
				return fmt.Errorf("(main) %w: got %d", ErrTooManyArgs, len(args))
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, fv)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&fv.configFile, "config", "c", "", "dotenv-style configuration file")
	flags.IntVarP(&fv.interval, "interval", "i", configuration.DefaultIntervalMinutes, "minutes between passes")
	flags.StringVarP(&fv.logFile, "log-file", "l", "", "file to additionally append logs to")
	flags.IntVarP(&fv.threshold, "threshold", "t", configuration.DefaultThreshold, "failed operations tolerated before a pass is rolled back")
	flags.StringSliceVarP(&fv.excludes, "exclude", "e", nil, "glob pattern of relative paths to exclude (repeatable)")
	flags.StringVar(&fv.journalDir, "journal-dir", "", "directory for the rollback stash (default: system temp)")
	flags.StringVar(&fv.lockDir, "lock-dir", "", "directory for the replica lock files (default: system temp)")
	flags.DurationVar(&fv.modifyWindow, "modify-window", 0, "tolerance when comparing modification times")
	flags.BoolVar(&fv.once, "once", false, "run a single pass and exit")
	flags.BoolVar(&fv.ui, "ui", false, "enable the terminal UI")
	flags.BoolVar(&fv.debug, "debug", false, "enable debug logging")

	return cmd
}

// loadConfig merges the defaults, the configuration file, the flags set on
// the command line and the positional arguments, in that order.
func loadConfig(flags *pflag.FlagSet, args []string, fv *flagValues) (*configuration.Config, error) {
	cfg := configuration.NewConfig()

	if fv.configFile != "" {
		if err := configuration.NewHandler(&configuration.GodotenvProvider{}).Load(cfg, fv.configFile); err != nil {
			return nil, fmt.Errorf("(main) %w", err)
		}
	}

	if flags.Changed("interval") {
		cfg.IntervalMinutes = fv.interval
	}
	if flags.Changed("log-file") {
		cfg.LogFile = fv.logFile
	}
	if flags.Changed("threshold") {
		cfg.Threshold = fv.threshold
	}
	if flags.Changed("exclude") {
		cfg.Excludes = fv.excludes
	}
	if flags.Changed("journal-dir") {
		cfg.JournalDir = fv.journalDir
	}
	if flags.Changed("lock-dir") {
		cfg.LockDir = fv.lockDir
	}
	if flags.Changed("modify-window") {
		cfg.ModifyWindow = fv.modifyWindow
	}

	if len(args) > 0 {
		cfg.Source = args[0]
	}
	if len(args) > 1 {
		cfg.Replica = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("(main) %w", err)
	}

	return cfg, nil
}

func validatePaths(cfg *configuration.Config) error {
	validator := validation.NewHandler(&schema.OS{})

	source, replica, err := validator.ValidatePaths(cfg.Source, cfg.Replica)
	if err != nil {
		return fmt.Errorf("(main) %w", err)
	}
	cfg.Source = source
	cfg.Replica = replica

	for _, dir := range []string{cfg.JournalDir, cfg.LockDir, cfg.LogFile} {
		if err := validator.ValidateWorkingDir(dir, source, replica); err != nil {
			return fmt.Errorf("(main) %w", err)
		}
	}

	return nil
}

func run(cmd *cobra.Command, args []string, fv *flagValues) error {
	level := slog.LevelInfo
	if fv.debug {
		level = slog.LevelDebug
	}

	console := cmd.ErrOrStderr()
	consoleHandler := newConsoleHandler(console, level, !isTerminal(console))

	logManager := NewSlogManager()
	logManager.AddHandler(consoleHandlerName, consoleHandler)
	slog.SetDefault(slog.New(logManager))

	cfg, err := loadConfig(cmd.Flags(), args, fv)
	if err != nil {
		return err
	}

	if err := validatePaths(cfg); err != nil {
		return err
	}

	if cfg.LogFile != "" {
		fileHandler, closer, err := openLogFile(&schema.OS{}, cfg.LogFile, level)
		if err != nil {
			return err
		}
		defer closer.Close()

		logManager.AddHandler(fileHandlerName, fileHandler)
		defer logManager.RemoveHandler(fileHandlerName)
	}

	app, err := NewApp(cfg, logManager, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	if !fv.ui || fv.once {
		return app.Launch(cmd.Context(), fv.once)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app.EnableUI(ctx, cancel)

	var wg sync.WaitGroup
	var appErr error

	wg.Add(1)
	go startUI(&wg, app, level, consoleHandler)

	wg.Add(1)
	go func() {
		appErr = startApp(ctx, &wg, app)
	}()

	wg.Wait()

	return appErr
}

func startApp(ctx context.Context, wg *sync.WaitGroup, app *App) error {
	defer wg.Done()

	for !app.uiHandler.Ready.Load() && !app.uiHandler.Failed.Load() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(uiPollInterval):
		}
	}

	return app.Launch(ctx, false)
}

func startUI(wg *sync.WaitGroup, app *App, level slog.Level, restore slog.Handler) {
	defer wg.Done()

	if err := app.LaunchUI(level, restore); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("UI failure: falling back to terminal.", "err", err)
	}
}

func main() {
	defer func() {
		os.Exit(ExitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandlers(cancel)

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("mirrord failed.", "err", err)
		ExitCode = 1
	}
}
