// Memu is a self-hosted family assistant that lives in the household's
// Matrix chat.
//
// It remembers facts, keeps a shared shopping list, sets reminders, reads
// and writes the family calendar, searches chat history and the photo
// library, sends a morning briefing and watches the nightly backup.
//
// Usage:
//
//	memu serve                      Connect to Matrix and run the assistant
//	memu check-config               Validate the configuration and exit
//	memu clear-list <room> [-done]  Delete a room's list items
//	memu record-backup <status> <file> [size] [duration] [error...]
//	                                Record a backup run (for the backup job)
//	memu version                    Print version and build information
//	memu -o json version            Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/memu-digital/memu-bot/internal/api"
	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/bot"
	"github.com/memu-digital/memu-bot/internal/brain"
	"github.com/memu-digital/memu-bot/internal/briefing"
	"github.com/memu-digital/memu-bot/internal/buildinfo"
	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/chathistory"
	"github.com/memu-digital/memu-bot/internal/config"
	"github.com/memu-digital/memu-bot/internal/connwatch"
	"github.com/memu-digital/memu-bot/internal/dateparse"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/llm"
	"github.com/memu-digital/memu-bot/internal/matrix"
	"github.com/memu-digital/memu-bot/internal/mqtt"
	"github.com/memu-digital/memu-bot/internal/photos"
	"github.com/memu-digital/memu-bot/internal/recall"
)

// main is intentionally minimal. It hands the OS-level environment to
// [run] so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's globals make concurrent runs from tests impossible and the
// surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "check-config":
		return runCheckConfig(stdout, configPath, outputFmt)
	case "clear-list":
		return runClearList(ctx, stdout, configPath, cmdArgs)
	case "record-backup":
		return runRecordBackup(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Memu - Family Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: memu [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                           Connect to Matrix and run the assistant")
	fmt.Fprintln(w, "  check-config                    Validate the configuration")
	fmt.Fprintln(w, "  clear-list <room> [-done]       Delete list items (all, or completed only)")
	fmt.Fprintln(w, "  record-backup <status> <file> [size] [duration] [error...]")
	fmt.Fprintln(w, "                                  Record a backup run")
	fmt.Fprintln(w, "  version                         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover, then environment only)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/memu/config.yaml, /etc/memu/config.yaml")
	return nil
}

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, or until the homeserver rejects the access token.
//
// Shutdown order: the sync loop stops delivering, in-flight messages
// finish, MQTT publishes "offline", then the admin server drains.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Memu", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Validate has already checked the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	loc := cfg.Location()
	logger.Info("config loaded",
		"path", cfgPath,
		"homeserver", cfg.Matrix.HomeserverURL,
		"user_id", cfg.Matrix.UserID,
		"database", cfg.Database.Driver,
		"timezone", loc.String(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Storage ---
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// --- Chat transport ---
	mx, err := matrix.NewClient(matrix.Config{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		AccessToken:   cfg.Matrix.AccessToken,
		Logger:        logger.With("component", "matrix"),
	})
	if err != nil {
		return err
	}

	// --- Intent engine ---
	ollama := llm.NewOllamaClient(cfg.AI.OllamaURL, cfg.AI.Timeout, logger.With("component", "llm"))
	var gen brain.Generator
	if cfg.AI.Enabled {
		gen = ollama
	}
	br := brain.New(gen, brain.Config{
		Enabled:     cfg.AI.Enabled,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
	}, logger.With("component", "brain"))

	// --- Calendar, history, photos ---
	dates := dateparse.New(loc)
	cal := calendar.New(calendar.Config{
		URL:             cfg.Calendar.URL,
		Username:        cfg.Calendar.Username,
		Password:        cfg.Calendar.Password,
		ConnectAttempts: cfg.Calendar.ConnectAttempts,
		Location:        loc,
	}, logger.With("component", "calendar"))
	scheduler := calendar.NewScheduler(br, cal, dates)
	history := chathistory.New(mx, cfg.Matrix.UserID, logger.With("component", "chathistory"))
	photoLib := photos.New(photos.Config{
		URL:    cfg.Photos.URL,
		APIKey: cfg.Photos.APIKey,
		Limit:  cfg.Photos.Limit,
	}, logger.With("component", "photos"))

	// --- Recall ---
	silos := recall.Sources{Facts: store, Chat: history}
	if cal.Configured() {
		silos.Calendar = cal
	}
	if photoLib.Configured() {
		silos.Photos = photoLib
	}
	recaller := recall.New(silos, br, recall.Config{
		SiloTimeout:        cfg.Recall.SiloTimeout,
		SynthesisThreshold: cfg.Recall.SynthesisThreshold,
		SummaryThreshold:   cfg.Recall.SummaryThreshold,
		ChatLimit:          cfg.Recall.ChatLimit,
		PhotoLimit:         cfg.Photos.Limit,
		CalendarMonthsBack: cfg.Calendar.SearchMonthsBack,
	}, logger.With("component", "recall"))

	// --- Backups ---
	var monitor *backup.Monitor
	if cfg.Backup.Enabled {
		monitor = backup.New(store, backup.Config{
			MarkerPath:  cfg.Backup.USBMarkerPath,
			ResultPath:  cfg.Backup.USBResultPath,
			ScriptPath:  cfg.Backup.USBScriptPath,
			Timeout:     cfg.Backup.USBTimeout,
			OverdueDays: cfg.Backup.USBOverdueDays,
		}, logger.With("component", "backup"))
	}

	// --- Briefing ---
	briefer := briefing.New(briefingSources(cfg, store, cal, photoLib, logger), br, loc, logger.With("component", "briefing"))

	// --- Router ---
	deps := bot.Deps{
		Transport: mx,
		Store:     store,
		Dates:     dates,
		Brain:     br,
		Recall:    recaller,
		Calendar:  cal,
		Scheduler: scheduler,
		History:   history,
		Briefing:  briefer,
		Logger:    logger.With("component", "bot"),
	}
	if monitor != nil {
		deps.Backup = monitor
	}
	b := bot.New(bot.Config{
		UserID:           cfg.Matrix.UserID,
		DisplayName:      cfg.Matrix.DisplayName,
		StaleAfter:       cfg.Matrix.StaleAfter,
		RecallDebug:      cfg.Recall.Debug,
		PrimaryRoom:      cfg.Briefing.PrimaryRoom,
		WorkdayStartHour: cfg.Calendar.WorkdayStartHour,
		WorkdayEndHour:   cfg.Calendar.WorkdayEndHour,
		ReminderInterval: cfg.Reminders.Interval,
		BackupInterval:   cfg.Backup.CheckInterval,
		// Give the backup job a chance to finish writing before the
		// first check after a restart.
		BackupInitialDelay: cfg.Backup.InitialDelay,
		USBReminderWindow: backup.Window{
			Weekday:   cfg.Backup.Weekday(),
			StartHour: cfg.Backup.ReminderStartHour,
			EndHour:   cfg.Backup.ReminderEndHour,
		},
	}, deps)

	if err := b.LoadModes(ctx); err != nil {
		logger.Warn("room modes not loaded, rooms start active", "error", err)
	}

	// --- Health watchers ---
	connMgr := connwatch.NewManager(logger.With("component", "connwatch"))
	defer connMgr.Stop()
	watchServices(ctx, connMgr, cfg, store, mx, ollama, cal, photoLib, logger)

	// --- Background work ---
	var wg sync.WaitGroup
	fatal := make(chan error, 1)

	syncer := matrix.NewSyncer(matrix.SyncerConfig{
		Client:   mx,
		Logger:   logger.With("component", "sync"),
		Timeout:  cfg.Matrix.SyncTimeout,
		AutoJoin: cfg.Matrix.AutoJoin,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncer.Run(ctx); err != nil && ctx.Err() == nil {
			fatal <- fmt.Errorf("matrix sync: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, syncer.Messages())
	}()

	// The configured ID is a fallback; the server's answer wins.
	wg.Add(1)
	go func() {
		defer wg.Done()
		resolveIdentity(ctx, syncer.WaitReady, mx.WhoAmI, logger, b.SetSelfID, history.SetBotID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.RunReminders(ctx)
	}()

	if monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RunBackups(ctx)
		}()
		logger.Info("backup monitoring enabled", "interval", cfg.Backup.CheckInterval)
	}

	if cfg.Briefing.Enabled {
		hour, minute, _ := config.ParseClock(cfg.Briefing.Time)
		schedule, err := briefing.NewSchedule(ctx, hour, minute, loc, logger.With("component", "briefing"), b.DeliverBriefing)
		if err != nil {
			return err
		}
		schedule.Start()
		defer schedule.Stop()
	}

	// --- Admin server ---
	var server *api.Server
	if cfg.Listen.Port > 0 {
		var backups api.BackupSource
		if monitor != nil {
			backups = monitor
		}
		server = api.NewServer(cfg.Listen.Address, cfg.Listen.Port, connMgr, backups, logger.With("component", "api"))
		server.SetCritical("matrix", "database")
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
				fatal <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		stats := &mqttStatsAdapter{store: store}
		if monitor != nil {
			stats.monitor = monitor
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, stats, logger.With("component", "mqtt"))
		mqttPub.Handle(mqtt.CommandBriefing, b.DeliverBriefing)
		if monitor != nil {
			mqttPub.Handle(mqtt.CommandCheckBackups, b.CheckBackups)
		}
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
				defer awaitCancel()
				return mqttPub.AwaitConnection(awaitCtx)
			},
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  logger,
		})
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	logger.Info("Memu is running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-fatal:
		logger.Error("fatal error, shutting down", "error", runErr)
		cancel()
	}

	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if mqttPub != nil {
		if err := mqttPub.Stop(shutdownCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}

	logger.Info("Memu stopped")
	return runErr
}

// briefingSources includes only the inputs that are configured, so an
// unconfigured service never shows up as an error in the briefing.
func briefingSources(cfg *config.Config, store *household.Store, cal *calendar.Client, photoLib *photos.Client, logger *slog.Logger) briefing.Sources {
	src := briefing.Sources{List: store}
	if cal.Configured() {
		src.Calendar = cal
	}
	if photoLib.Configured() {
		src.Photos = photoLib
	}
	if cfg.Weather.APIKey != "" && cfg.Weather.City != "" {
		src.Weather = briefing.NewWeatherClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.City, cfg.Weather.Country, logger.With("component", "weather"))
	}
	if len(cfg.News.Feeds) > 0 {
		src.News = briefing.NewNewsReader(cfg.News.Feeds, cfg.News.MaxHeadlines, logger.With("component", "news"))
	}
	return src
}

// watchServices registers a health watcher per external dependency.
// Optional services are only watched when configured.
func watchServices(ctx context.Context, m *connwatch.Manager, cfg *config.Config, store *household.Store, mx *matrix.Client, ollama *llm.OllamaClient, cal *calendar.Client, photoLib *photos.Client, logger *slog.Logger) {
	watch := func(name string, probe connwatch.ProbeFunc) {
		m.Watch(ctx, connwatch.WatcherConfig{
			Name:    name,
			Probe:   probe,
			Backoff: connwatch.DefaultBackoffConfig(),
			OnReady: func() { logger.Info("service ready", "service", name) },
			OnDown:  func(err error) { logger.Warn("service down", "service", name, "error", err) },
			Logger:  logger,
		})
	}

	watch("database", store.Ping)
	watch("matrix", func(ctx context.Context) error {
		_, err := mx.WhoAmI(ctx)
		return err
	})
	if cfg.AI.Enabled {
		watch("ollama", ollama.Ping)
	}
	if cal.Configured() {
		watch("caldav", func(ctx context.Context) error {
			if !cal.IsAvailable(ctx) {
				return calendar.ErrCalendarUnavailable
			}
			return nil
		})
	}
	if photoLib.Configured() {
		watch("immich", photoLib.Ping)
	}
}

// openStore opens the household database, creating the directory of a
// SQLite file if needed.
func openStore(cfg *config.Config) (*household.Store, error) {
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := household.NewStore(cfg.Database.Driver, cfg.Database.DataSource())
	if err != nil {
		return nil, fmt.Errorf("open household store: %w", err)
	}
	return store, nil
}

// loadConfig finds and parses the configuration. Unlike a plain
// FindConfig, a missing file is not an error when no explicit path was
// given: a .env-only deployment configures everything from the
// environment.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if cfgPath == "" {
		cfgPath = "(environment)"
	}
	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges the store and backup monitor to
// [mqtt.StatsSource].
type mqttStatsAdapter struct {
	store   *household.Store
	monitor *backup.Monitor
}

func (a *mqttStatsAdapter) BackupStatus(ctx context.Context) (backup.Status, error) {
	if a.monitor == nil {
		return backup.Status{}, errors.New("backup monitoring disabled")
	}
	return a.monitor.Status(ctx)
}

func (a *mqttStatsAdapter) PendingReminders(ctx context.Context) (int, error) {
	return a.store.PendingReminderCount(ctx)
}

// resolveIdentity asks the homeserver who the bot is, once, after the
// initial sync. Until then, or if whoami fails, the configured user ID
// stays in use.
func resolveIdentity(
	ctx context.Context,
	ready func(context.Context) error,
	whoami func(context.Context) (string, error),
	logger *slog.Logger,
	apply ...func(string),
) {
	if err := ready(ctx); err != nil {
		return
	}
	whoCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	self, err := whoami(whoCtx)
	if err != nil {
		logger.Warn("whoami failed, using configured user id", "error", err)
		return
	}
	for _, fn := range apply {
		fn(self)
	}
	logger.Info("bot identity resolved", "user_id", self)
}
