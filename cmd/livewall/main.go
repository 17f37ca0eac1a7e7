// livewall keeps a video looping as a live wallpaper. It recovers from
// decode faults and stalls on its own and moves on to the next clip in the
// library when a source fails for good.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livewall/internal/config"
	"livewall/internal/control"
	"livewall/internal/display"
	"livewall/internal/engine"
	"livewall/internal/library"
	"livewall/internal/log"
	"livewall/internal/media"
	"livewall/internal/metrics"
	"livewall/internal/report"
	"livewall/internal/state"
	"livewall/internal/system"
	"livewall/internal/vlc"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "livewall",
		Short:        "livewall keeps a video looping as your wallpaper",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default ~/.config/livewall/config.toml)")

	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(checkCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd starts the engine, the library watcher, the control API and the
// status reporter.
func runCmd(configPath *string) *cobra.Command {
	var (
		paused   bool
		logLevel string
		console  bool
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Start looping a video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			cfg.Log.Level, err = resolveLogLevel(cfg.Log.Level, log.LevelFromEnv(), logLevel)
			if err != nil {
				return err
			}
			log.Configure(log.Config{Level: cfg.Log.Level, Console: console || cfg.Log.Console})
			logger := log.WithComponent("main")
			logger.Info().Str("version", version).Str("built", buildTime).Str("config", cfg.Path()).Msg("livewall starting")

			var arg string
			if len(args) == 1 {
				arg, err = filepath.Abs(args[0])
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, arg, paused)
		},
	}

	cmd.Flags().BoolVar(&paused, "paused", false, "Start paused")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&console, "console", false, "Human-readable log output")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, arg string, paused bool) error {
	logger := log.WithComponent("main")

	st, err := state.Load(cfg.State.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("state unreadable, starting fresh")
		st = state.New(cfg.State.Path)
	}

	backend, err := vlc.NewBackend(vlc.Config{
		Path:         cfg.VLC.Path,
		ExtraArgs:    cfg.VLC.ExtraArgs,
		StallTimeout: cfg.Playback.StallTimeout.Duration,
		Volume:       cfg.VLC.Volume,
	})
	if err != nil {
		return fmt.Errorf("backend init: %w", err)
	}

	var targets []*display.Target
	for _, d := range cfg.Displays {
		targets = append(targets, display.NewTarget(d.ID, media.Resolution{Width: d.Width, Height: d.Height}))
	}

	muted := cfg.Playback.Muted
	if st.Source() != "" {
		muted = st.Muted
	}

	met := metrics.New()
	p := &player{
		ctx:     ctx,
		targets: targets,
		st:      st,
		opts: engine.StartOptions{
			Muted:         muted,
			Paused:        paused,
			MaxResolution: display.DecodeHint(cfg.Playback.MaxResolution(), targets),
		},
		log: logger,
	}

	if cfg.Report.Enabled() {
		p.reporter, err = report.NewClient(report.Config{
			Endpoint: cfg.Report.Endpoint,
			ID:       cfg.Report.ID,
			Key:      cfg.Report.Key,
			Interval: cfg.Report.Interval.Duration,
		}, version, p.snapshots)
		if err != nil {
			return err
		}
	}

	p.eng = engine.New(backend,
		engine.WithSourceChecker(system.FileChecker{}),
		engine.WithRecorder(met),
		engine.WithOnPermanentFailure(p.onPermanentFailure),
		engine.WithLogger(log.WithComponent("engine")),
	)

	if cfg.Library.Dir != "" {
		if err := system.EnsureDir(cfg.Library.Dir); err != nil {
			return fmt.Errorf("library dir %s: %w", cfg.Library.Dir, err)
		}
		p.lib, err = library.NewWatcher(cfg.Library.Dir, p.onLibraryChange)
		if err != nil {
			return fmt.Errorf("watcher init: %w", err)
		}
		logger.Info().Str("dir", cfg.Library.Dir).Int("files", len(p.lib.Files())).Msg("library loaded")
	}

	source := p.resolve(arg)
	if source == "" {
		logger.Warn().Msg("nothing to play yet: waiting for a video in the library")
	} else if err := p.play(source); err != nil {
		if arg != "" || errors.Is(err, media.ErrUnsupported) {
			return err
		}
		logger.Error().Err(err).Str("source", source).Msg("start failed, trying the rest of the library")
		if err := p.playFrom(source); err != nil {
			logger.Warn().Err(err).Msg("nothing playable yet")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if p.lib != nil {
		g.Go(func() error {
			if err := p.lib.Start(); err != nil {
				logger.Warn().Err(err).Msg("library watcher stopped")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			p.lib.Stop()
			return nil
		})
	}

	if cfg.Control.Addr != "" {
		h := control.NewHandler(p.current, met.Handler())
		g.Go(func() error {
			return control.Serve(gctx, cfg.Control.Addr, h.Router())
		})
	}

	if p.reporter != nil {
		g.Go(func() error {
			return p.reporter.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		p.shutdown()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}

// resolveLogLevel applies the --log-level flag over LIVEWALL_LOG_LEVEL
// over the config file.
func resolveLogLevel(fromConfig, fromEnv, fromFlag string) (string, error) {
	if fromFlag != "" {
		if !log.ValidLevel(fromFlag) {
			return "", fmt.Errorf("invalid log level %q", fromFlag)
		}
		return fromFlag, nil
	}
	if fromEnv != "" {
		if !log.ValidLevel(fromEnv) {
			return "", fmt.Errorf("invalid %s %q", log.EnvLevel, fromEnv)
		}
		return fromEnv, nil
	}
	return fromConfig, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("livewall %s\nBuilt: %s\n", version, buildTime)
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that VLC and the library are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log.Configure(log.Config{Level: "warn", Console: true})

			status := system.RunHealthCheck(cfg)
			fmt.Printf("VLC             : %s\n", orError(status.VLCPath, status.VLCErr))
			fmt.Printf("Library         : %s (%d videos)\n", orError(status.LibraryDir, status.LibraryErr), status.LibraryFiles)
			for _, d := range status.Disks {
				if d.Err != "" {
					fmt.Printf("Disk %-11s: %s\n", d.Path, d.Err)
					continue
				}
				fmt.Printf("Disk %-11s: %.1f%% used, %d MB free\n", d.Path, d.UsedPct, d.FreeBytes/1024/1024)
			}
			if !status.OK() {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}

func orError(value, errMsg string) string {
	if errMsg != "" {
		return "ERROR: " + errMsg
	}
	return value
}
