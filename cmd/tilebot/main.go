// Command tilebot runs the autonomous pixel-detection control loop described
// by spec.md: capture, color detection, combat/instance state machines, and
// human-like input synthesis. Entrypoint shape (load config, build logger,
// construct the runnable, recover a top-level panic) is grounded on the
// teacher's main.go/logger.go, generalized from a single Tk-backed App.Run()
// to a spf13/cobra root command with run/instance/focus subcommands per
// SPEC_FULL.md's ambient CLI section.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/kvassilev/tilebot/internal/action"
	"github.com/kvassilev/tilebot/internal/capture"
	"github.com/kvassilev/tilebot/internal/config"
	"github.com/kvassilev/tilebot/internal/detection"
	"github.com/kvassilev/tilebot/internal/eventbus"
	"github.com/kvassilev/tilebot/internal/humanizer"
	"github.com/kvassilev/tilebot/internal/statemachine"
)

var (
	flagProfile string
	flagDebug   bool
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			os.Stderr.WriteString(fmt.Sprintf("panic: %v\n%s\n", r, debug.Stack()))
			os.Exit(1)
		}
	}()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tilebot",
		Short: "Autonomous pixel-detection combat control loop",
	}
	root.PersistentFlags().StringVar(&flagProfile, "profile", "", "path to a YAML config profile (optional)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug-level logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInstanceCmd())
	root.AddCommand(newFocusCmd())
	return root
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if flagProfile == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(flagProfile)
	if err != nil {
		logger.Warn("tilebot: failed to read profile, using defaults", "path", flagProfile, "error", err)
		return config.Default(), nil
	}
	cfg, err := config.FromYAML(data, logger)
	if err != nil {
		return nil, fmt.Errorf("tilebot: loading profile %q: %w", flagProfile, err)
	}
	return cfg, nil
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	logdir, err := xdg.StateFile("tilebot/run.log")
	logger := newLogger(level)
	if err == nil {
		logger.Debug("tilebot: state/log directory resolved", "path", logdir)
	}
	return logger
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the full control loop (Main Loop FSM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			return runMainLoop(cmd.Context(), logger, cfg)
		},
	}
}

func newInstanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instance",
		Short: "Start instance-mode-only run (Instance Mode FSM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			return runInstanceLoop(cmd.Context(), logger, cfg)
		},
	}
}

func newFocusCmd() *cobra.Command {
	var titleSubstring string
	var exact bool
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "One-shot window-focus diagnostic",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			win, err := capture.FocusWindow(logger, titleSubstring, exact, 3, 500*time.Millisecond)
			if err != nil {
				return err
			}
			logger.Info("tilebot: focused window", "title", win.Title, "bounds", win.Bounds)
			return nil
		},
	}
	cmd.Flags().StringVar(&titleSubstring, "title", "", "window title substring to match")
	cmd.Flags().BoolVar(&exact, "exact", false, "require an exact title match")
	return cmd
}

// runMainLoop wires the Capture Service, Detection Engine, Action
// Dispatcher, Humanizer, Event Bus and Main Loop FSM together and drives the
// tick loop at cfg.ScanIntervalS until an interrupt signal arrives.
func runMainLoop(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	bus := eventbus.New(logger)
	capSvc := capture.New(logger, time.Duration(cfg.DetectionCacheTTLS*float64(time.Second)), 8)
	persist := detection.NewPersistenceCache(
		time.Duration(cfg.TilePersistenceMs)*time.Millisecond,
		time.Duration(cfg.MonsterPersistenceMs)*time.Millisecond,
	)
	engine := detection.New(logger, capSvc, persist)
	dispatcher := action.New(
		logger,
		time.Duration(cfg.MinClickCooldownMs)*time.Millisecond,
		time.Duration(cfg.ClickDelayMs)*time.Millisecond,
		cfg.ClickVariationPercent,
	)
	human := humanizer.New()

	mode := statemachine.SubModeStandard
	if cfg.OneTeleOneKillEnabled {
		mode = statemachine.SubModeOneTeleOneKill
	} else if cfg.MultiMonsterMode {
		mode = statemachine.SubModeMultiMonster
	}

	params := statemachine.MainLoopParams{
		Mode:                       mode,
		AttackGrace:                time.Duration(cfg.AttackGraceS * float64(time.Second)),
		PostCombatDelayMin:         time.Duration(cfg.PostCombatDelayMinS * float64(time.Second)),
		PostCombatDelayMax:         time.Duration(cfg.PostCombatDelayMaxS * float64(time.Second)),
		CombatNotSeenTimeout:       time.Duration(cfg.CombatNotSeenTimeoutS * float64(time.Second)),
		OneTeleOneKillHPTimeout:    time.Duration(cfg.OneTeleOneKillHPTimeoutS * float64(time.Second)),
		LowConfidenceClickEnabled:  cfg.LowConfidenceClickEnabled,
		LowConfidenceAreaThreshold: cfg.LowConfidenceAreaThreshold,
		LowConfMinCount:            cfg.LowConfMinCount,
	}
	weaponCandidates := []statemachine.StyleCandidate{
		{Style: statemachine.StyleMelee, Color: cfg.CombatWeaponMeleeColor},
		{Style: statemachine.StyleRanged, Color: cfg.CombatWeaponRangedColor},
		{Style: statemachine.StyleMagic, Color: cfg.CombatWeaponMagicColor},
	}
	hooks := statemachine.ActionHooks{
		ClickMonster: func(target detection.MonsterObservation, enforceGuard bool) {
			searchBounds := cfg.SearchROI.Resolve(targetWindowBBox())
			if err := dispatcher.MoveAndClick(geometryPoint(target.Center.X, target.Center.Y), searchBounds, "left", 1, enforceGuard); err != nil {
				logger.Error("tilebot: click monster failed", "error", err)
			}
		},
		FireOneTeleport: func() {
			x, y := cfg.OneTeleOneKillTeleportXY.X, cfg.OneTeleOneKillTeleportXY.Y
			searchBounds := cfg.SearchROI.Resolve(targetWindowBBox())
			if err := dispatcher.MoveAndClick(geometryPoint(x, y), searchBounds, "left", 1, true); err != nil {
				logger.Error("tilebot: one-tele-one-kill teleport click failed", "error", err)
			}
		},
		DetectWeaponStyle: func() statemachine.CombatStyle {
			frame, err := capSvc.Capture(cfg.WeaponROI.Resolve(targetWindowBBox()))
			if err != nil {
				logger.Warn("tilebot: weapon roi capture failed", "error", err)
				return statemachine.StyleUnknown
			}
			mat, err := gocv.ImageToMatRGB(frame.Img)
			if err != nil {
				logger.Warn("tilebot: weapon roi mat conversion failed", "error", err)
				return statemachine.StyleUnknown
			}
			defer mat.Close()
			style := statemachine.DetectWeaponStyle(&mat, weaponCandidates, cfg.WeaponMinPixels)
			if style == statemachine.StyleUnknown {
				style = statemachine.DetectWeaponStylePrecise(&mat, weaponCandidates, cfg.WeaponMinPixels, 15)
			}
			return style
		},
		SwitchWeapon: func(style statemachine.CombatStyle) {
			if _, err := dispatcher.Fire("switch_weapon_" + string(style)); err != nil {
				logger.Warn("tilebot: switch weapon action failed", "style", style, "error", err)
			}
		},
	}
	loop := statemachine.NewMainLoop(logger, bus, params, hooks)
	defer loop.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(time.Duration(cfg.ScanIntervalS * float64(time.Second)))
	defer ticker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	logger.Info("tilebot: main loop started", "scan_interval_s", cfg.ScanIntervalS, "mode", mode)
	for {
		select {
		case <-sigCh:
			logger.Info("tilebot: shutdown signal received")
			return nil
		case <-ctx.Done():
			return nil
		case <-statsTicker.C:
			logCaptureStats(logger, capSvc)
		case now := <-ticker.C:
			if cfg.HumanizeOn && human.ShouldTakeBreak(time.Duration(cfg.BreakEveryS*float64(time.Second)), cfg.HumanizeJitterPercent) {
				breakFor := human.RandomizeDelay(time.Duration(cfg.BreakDurationS*float64(time.Second)), cfg.HumanizeJitterPercent)
				logger.Info("tilebot: taking a break", "duration", breakFor)
				human.TakeBreak()
				time.Sleep(breakFor)
				continue
			}
			result, err := engine.Detect(
				cfg.SearchROI.Resolve(targetWindowBBox()),
				cfg.HPBarROI.Resolve(targetWindowBBox()),
				cfg.CombatStyleROI.Resolve(targetWindowBBox()),
				detectionParams(cfg),
			)
			if err != nil {
				logger.Warn("tilebot: detection cycle failed", "error", err)
				continue
			}
			loop.EventTick(result, now)
		}
	}
}

func runInstanceLoop(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	bus := eventbus.New(logger)
	capSvc := capture.New(logger, time.Duration(cfg.DetectionCacheTTLS*float64(time.Second)), 8)
	persist := detection.NewPersistenceCache(
		time.Duration(cfg.TilePersistenceMs)*time.Millisecond,
		time.Duration(cfg.MonsterPersistenceMs)*time.Millisecond,
	)
	engine := detection.New(logger, capSvc, persist)
	dispatcher := action.New(
		logger,
		time.Duration(cfg.MinClickCooldownMs)*time.Millisecond,
		time.Duration(cfg.ClickDelayMs)*time.Millisecond,
		cfg.ClickVariationPercent,
	)

	strategy := statemachine.AggroStrategyHybrid
	switch cfg.InstanceAggroStrategy {
	case config.AggroBar:
		strategy = statemachine.AggroStrategyBar
	case config.AggroTimer:
		strategy = statemachine.AggroStrategyTimer
	}

	params := statemachine.InstanceParams{
		Strategy:           strategy,
		AggroInterval:      time.Duration(cfg.InstanceAggroIntervalMinM * float64(time.Minute)),
		AggroStartDelay:    time.Duration(cfg.InstanceAggroStartDelayS * float64(time.Second)),
		AggroJitterPercent: cfg.InstanceAggroJitterPercent,
		PostAggroHPWait:    time.Duration(cfg.InstancePostAggroHPWaitS * float64(time.Second)),
		PostTeleportHPWait: time.Duration(cfg.InstancePostTeleportHPWaitS * float64(time.Second)),
		HPTimeout:          time.Duration(cfg.InstanceHPTimeoutS * float64(time.Second)),
		TeleportMaxRetries: cfg.InstanceTeleportMaxRetries,
		TokenDelay:         time.Duration(cfg.InstanceTokenDelayS * float64(time.Second)),
	}
	hooks := statemachine.InstanceHooks{
		FireAggroPotion: func() {
			searchBounds := cfg.SearchROI.Resolve(targetWindowBBox())
			_ = dispatcher.MoveAndClick(geometryPoint(cfg.AggroPotionLocation.X, cfg.AggroPotionLocation.Y), searchBounds, "left", 1, true)
		},
		FireToken: func() {
			searchBounds := cfg.SearchROI.Resolve(targetWindowBBox())
			_ = dispatcher.MoveAndClick(geometryPoint(cfg.InstanceTokenLocation.X, cfg.InstanceTokenLocation.Y), searchBounds, "left", 1, true)
		},
		FireTeleport: func() {
			searchBounds := cfg.SearchROI.Resolve(targetWindowBBox())
			_ = dispatcher.MoveAndClick(geometryPoint(cfg.InstanceTeleportLocation.X, cfg.InstanceTeleportLocation.Y), searchBounds, "left", 1, true)
		},
	}
	fsm := statemachine.NewInstanceFSM(logger, bus, params, hooks)
	defer fsm.Close()
	fsm.EventStart(time.Now())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(time.Duration(cfg.ScanIntervalS * float64(time.Second)))
	defer ticker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	logger.Info("tilebot: instance loop started", "strategy", cfg.InstanceAggroStrategy)
	for {
		select {
		case <-sigCh:
			logger.Info("tilebot: shutdown signal received")
			return nil
		case <-ctx.Done():
			return nil
		case <-statsTicker.C:
			logCaptureStats(logger, capSvc)
		case now := <-ticker.C:
			result, err := engine.Detect(
				cfg.SearchROI.Resolve(targetWindowBBox()),
				cfg.HPBarROI.Resolve(targetWindowBBox()),
				cfg.CombatStyleROI.Resolve(targetWindowBBox()),
				detectionParams(cfg),
			)
			if err != nil {
				logger.Warn("tilebot: detection cycle failed", "error", err)
				continue
			}
			fsm.EventTick(result, now)
		}
	}
}

func detectionParams(cfg *config.Config) detection.Params {
	return detection.Params{
		TileColor:          cfg.TileColor,
		MonsterColors:      cfg.MonsterColors,
		HPBarColor:         cfg.HPBarColor,
		TileMinArea:        cfg.TileMinArea,
		MonsterMinArea:     cfg.MonsterMinArea,
		HPBarMinArea:       cfg.HPBarMinArea,
		AroundTileRadius:   cfg.AroundTileRadius,
		ROIMaxExpansion:    cfg.ROIMaxExpansion,
		ROIExpansionFactor: cfg.ROIExpansionFactor,
		EnableFullFallback: cfg.EnableMonsterFullFallback,
		SubsampleStep:      cfg.SearchStep,
		UsePrecise:         cfg.UsePreciseMode,

		HPBarMinPixelMatches:      cfg.HPBarMinPixelMatches,
		CombatNotSeenTimeout:      time.Duration(cfg.CombatNotSeenTimeoutS * float64(time.Second)),
		CombatLeaveImmediately:    cfg.CombatLeaveImmediately,
		SkipDetectionWhenInCombat: cfg.SkipDetectionWhenInCombat,
		CombatStyles: []detection.StyleColor{
			{Style: string(config.StyleMelee), Color: cfg.CombatStyleMeleeColor, MinPixels: combatStyleMinPixels(cfg.CombatStyleMinPixelsMelee, cfg.CombatStyleMinPixels)},
			{Style: string(config.StyleRanged), Color: cfg.CombatStyleRangedColor, MinPixels: combatStyleMinPixels(cfg.CombatStyleMinPixelsRanged, cfg.CombatStyleMinPixels)},
			{Style: string(config.StyleMagic), Color: cfg.CombatStyleMagicColor, MinPixels: combatStyleMinPixels(cfg.CombatStyleMinPixelsMagic, cfg.CombatStyleMinPixels)},
		},
	}
}

// combatStyleMinPixels prefers a style-specific threshold over the shared
// combat_style_min_pixels base when the operator configured one.
func combatStyleMinPixels(specific, base int) int {
	if specific > 0 {
		return specific
	}
	return base
}
