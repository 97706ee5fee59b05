// Command soundalert is the main entry point for the Sound Alert monitoring
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/soundalert/internal/app"
	"github.com/MrWong99/soundalert/internal/config"
	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/eventlog/csvlog"
	"github.com/MrWong99/soundalert/internal/eventlog/postgres"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/internal/notify/discord"
	"github.com/MrWong99/soundalert/internal/notify/webhook"
	"github.com/MrWong99/soundalert/internal/observe"
	"github.com/MrWong99/soundalert/pkg/audio"
	"github.com/MrWong99/soundalert/pkg/audio/alsa"
	"github.com/MrWong99/soundalert/pkg/audio/pipe"
	"github.com/MrWong99/soundalert/pkg/classifier"
	"github.com/MrWong99/soundalert/pkg/classifier/tfserving"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload enabled sounds, schedule and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "soundalert: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "soundalert: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("soundalert starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "soundalert",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Discord session (optional) ────────────────────────────────────────────
	var session *discordgo.Session
	if cfg.Notify.Name == config.NotifyDiscord {
		session, err = discord.NewSession(cfg.Notify.Token)
		if err != nil {
			slog.Error("failed to create Discord session", "err", err)
			return 1
		}
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, session)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if session != nil {
		providers.Discord = session
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers.Vocabulary)

	opts := []app.Option{
		app.WithLevelVar(&level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, config.DefaultWatchInterval))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// session is the shared Discord session, or nil when Discord is not in use.
func registerBuiltinProviders(reg *config.Registry, session *discordgo.Session) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("alsa", func(entry config.ProviderEntry) (audio.Capturer, error) {
		var opts []alsa.Option
		if dev := optString(entry.Options, "device"); dev != "" {
			opts = append(opts, alsa.WithDevice(dev))
		}
		if cmd := optString(entry.Options, "command"); cmd != "" {
			opts = append(opts, alsa.WithCommand(cmd))
		}
		return alsa.New(opts...), nil
	})

	reg.RegisterCapture("pipe", func(entry config.ProviderEntry) (audio.Capturer, error) {
		return pipe.New(optString(entry.Options, "path"))
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("tfserving", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		var opts []tfserving.Option
		if d, err := optDuration(entry.Options, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, tfserving.WithTimeout(d))
		}
		if key := optString(entry.Options, "output_key"); key != "" {
			opts = append(opts, tfserving.WithOutputKey(key))
		}
		return tfserving.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Event log ─────────────────────────────────────────────────────────────

	reg.RegisterEventLog(config.EventLogCSV, func(_ context.Context, c config.EventLogConfig) (eventlog.Sink, error) {
		return csvlog.New(c.Dir)
	})

	reg.RegisterEventLog(config.EventLogPostgres, func(ctx context.Context, c config.EventLogConfig) (eventlog.Sink, error) {
		return postgres.New(ctx, c.PostgresDSN)
	})

	// ── Notifiers ─────────────────────────────────────────────────────────────
	// live and none need the application's hub and are resolved by app.New.

	reg.RegisterNotifier(config.NotifyDiscord, func(c config.NotifyConfig) (notify.Notifier, error) {
		if session == nil {
			return nil, errors.New("discord session not initialised")
		}
		return discord.NewNotifier(session, c.ChannelID)
	})

	reg.RegisterNotifier(config.NotifyWebhook, func(c config.NotifyConfig) (notify.Notifier, error) {
		var opts []webhook.Option
		if c.Token != "" {
			opts = append(opts, webhook.WithToken(c.Token))
		}
		return webhook.New(c.URL, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	capture, err := reg.CreateCapture(cfg.Providers.Capture)
	if err != nil {
		return nil, fmt.Errorf("create capture provider %q: %w", cfg.Providers.Capture.Name, err)
	}
	ps.Capture = capture
	slog.Info("provider created", "kind", "capture", "name", cfg.Providers.Capture.Name)

	cls, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier provider %q: %w", cfg.Providers.Classifier.Name, err)
	}
	ps.Classifier = cls
	slog.Info("provider created", "kind", "classifier", "name", cfg.Providers.Classifier.Name, "model", cfg.Providers.Classifier.Model)

	vocab, err := classifier.LoadVocabulary(cfg.Providers.Vocabulary)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	ps.Vocabulary = vocab
	slog.Info("vocabulary loaded", "path", cfg.Providers.Vocabulary, "labels", vocab.Size())

	sink, err := reg.CreateEventLog(ctx, cfg.EventLog)
	if err != nil {
		return nil, fmt.Errorf("create eventlog %q: %w", cfg.EventLog.Name, err)
	}
	ps.EventLog = sink
	slog.Info("provider created", "kind", "eventlog", "name", cfg.EventLog.Name)

	if name := cfg.Notify.Name; name != "" {
		n, err := reg.CreateNotifier(cfg.Notify)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("notifier handled by application", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create notifier %q: %w", name, err)
		} else {
			ps.Notifier = n
			slog.Info("provider created", "kind", "notify", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, vocab *classifier.Vocabulary) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     Sound Alert — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", providerValue(cfg.Providers.Capture.Name, optString(cfg.Providers.Capture.Options, "device")))
	printRow("Classifier", providerValue(cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model))
	printRow("Labels", fmt.Sprintf("%d", vocab.Size()))
	printRow("Event log", cfg.EventLog.Name)
	printRow("Notify", providerValue(cfg.Notify.Name, ""))
	if n := len(cfg.Monitor.EnabledSounds); n > 0 {
		printRow("Enabled", fmt.Sprintf("%d sounds", n))
	} else {
		printRow("Enabled", "(all)")
	}
	if cfg.Schedule.Enabled {
		printRow("Schedule", cfg.Schedule.Start+"-"+cfg.Schedule.End)
	} else {
		printRow("Schedule", "(always)")
	}
	if cfg.Monitor.Autostart {
		printRow("Autostart", "yes")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerValue(name, detail string) string {
	switch {
	case name == "":
		return "(not configured)"
	case detail != "":
		return name + " / " + detail
	default:
		return name
	}
}

func printRow(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optDuration extracts a duration such as "5s" from a provider Options map.
// Integer values are taken as seconds. Returns 0 if the key is absent.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	switch v := opts[key].(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("option %s: unsupported value %v", key, v)
	}
}
