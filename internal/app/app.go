// Package app wires all soundalert subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and background tasks until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithListener,
// WithMetrics, etc.). Providers always come from the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/config"
	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/health"
	"github.com/MrWong99/soundalert/internal/live"
	"github.com/MrWong99/soundalert/internal/monitor"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/internal/notify/discord"
	"github.com/MrWong99/soundalert/internal/observe"
	"github.com/MrWong99/soundalert/internal/resilience"
	"github.com/MrWong99/soundalert/internal/web"
	"github.com/MrWong99/soundalert/pkg/audio"
	"github.com/MrWong99/soundalert/pkg/classifier"
)

// httpShutdownTimeout bounds the graceful HTTP drain when Run's context ends.
const httpShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	// Capture, Classifier, Vocabulary and EventLog are required.
	Capture    audio.Capturer
	Classifier classifier.Classifier
	Vocabulary *classifier.Vocabulary
	EventLog   eventlog.Sink

	// Notifier is a remote notifier (discord, webhook). When nil, the
	// notifier is chosen from notify.name: "live" broadcasts on the live
	// feed, anything else disables side notifications.
	Notifier notify.Notifier

	// Discord, when set together with notify.dashboard, drives the
	// statistics dashboard embed.
	Discord discord.Session
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems: initialised in New, torn down in Shutdown.
	hub       *live.Hub
	monitor   *monitor.Monitor
	breaker   *resilience.CircuitBreaker
	dashboard *discord.Dashboard
	server    *http.Server
	watcher   *config.Watcher

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	listener       net.Listener
	configPath     string
	watchInterval  time.Duration
	now            func() time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar makes config reloads adjust lv when server.log_level changes.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects the metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the Prometheus /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatch reloads path every interval while Run is active and
// applies hot-reloadable changes. A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithClock overrides the monitor's wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: live hub, notifier and
// circuit breaker, monitor, health checks, HTTP routes and the optional
// Discord dashboard. Monitoring is not started until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Live hub ──────────────────────────────────────────────────────
	a.hub = live.NewHub(live.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 2. Notifier ──────────────────────────────────────────────────────
	notifier := a.initNotifier()

	// ── 3. Monitor ───────────────────────────────────────────────────────
	if err := a.initMonitor(notifier); err != nil {
		return nil, fmt.Errorf("app: init monitor: %w", err)
	}
	a.hub.SetStatus(a.monitor.Running)

	// ── 4. Metrics ───────────────────────────────────────────────────────
	if err := a.metrics.ObserveGauge("soundalert.live.subscribers",
		"Number of connected live feed subscribers.",
		func() int64 { return int64(a.hub.Subscribers()) },
	); err != nil {
		slog.Warn("failed to register live subscriber gauge", "err", err)
	}

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	// ── 6. Dashboard ─────────────────────────────────────────────────────
	if cfg.Notify.Dashboard && providers.Discord != nil {
		a.dashboard = discord.NewDashboard(discord.DashboardConfig{
			Session:   providers.Discord,
			ChannelID: cfg.Notify.ChannelID,
			Interval:  cfg.Notify.DashboardInterval,
			Source:    a.monitor,
		})
	}

	// ── 7. Provider cleanup ──────────────────────────────────────────────
	for _, p := range []any{providers.Capture, providers.EventLog} {
		if c := closerOf(p); c != nil {
			a.closers = append(a.closers, c)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initNotifier picks the side-notification channel and guards remote
// notifiers with a circuit breaker.
func (a *App) initNotifier() notify.Notifier {
	if n := a.providers.Notifier; n != nil {
		b := a.cfg.Notify.Breaker
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:          "notify/" + a.cfg.Notify.Name,
			MaxFailures:   b.MaxFailures,
			ResetTimeout:  b.ResetTimeout,
			HalfOpenMax:   b.HalfOpenMax,
			OnStateChange: logBreakerTransition,
		})
		return notify.WithBreaker(n, a.breaker)
	}
	if a.cfg.Notify.Name == config.NotifyLive {
		return notify.NewLive(a.hub)
	}
	return notify.Nop{}
}

func logBreakerTransition(name string, from, to resilience.State) {
	if to == resilience.StateOpen {
		slog.Warn("circuit breaker opened; notifications suspended", "breaker", name, "from", from.String())
		return
	}
	slog.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}

// initMonitor builds the monitoring loop from config and providers.
func (a *App) initMonitor(notifier notify.Notifier) error {
	sched, err := a.cfg.Schedule.Schedule()
	if err != nil {
		return err
	}
	mc := a.cfg.Monitor
	cfg := monitor.Config{
		SampleRate:   mc.SampleRate,
		Channels:     mc.Channels,
		Window:       mc.Window,
		TargetRate:   mc.TargetRate,
		TargetLength: mc.TargetLength,
		Threshold:    float32(mc.Threshold),
		IdleInterval: mc.IdleInterval,
		ErrorBackoff: mc.ErrorBackoff,
		HistorySize:  a.cfg.Alerts.HistorySize,
		TimelineSize: a.cfg.Alerts.TimelineSize,
		BaseCooldown: a.cfg.Alerts.BaseCooldown,
		Enabled:      alert.NewEnabledSet(mc.EnabledSounds...),
		Schedule:     &sched,
	}
	deps := monitor.Deps{
		Capturer:   a.providers.Capture,
		Classifier: a.providers.Classifier,
		Vocabulary: a.providers.Vocabulary,
		Log:        a.providers.EventLog,
		Policy:     alert.NewPriorityPolicy(a.cfg.Alerts.Priorities),
		Live:       a.hub,
		Notifier:   notifier,
		Metrics:    a.metrics,
		Now:        a.now,
	}
	m, err := monitor.New(cfg, deps)
	if err != nil {
		return err
	}
	a.monitor = m
	if a.providers.Vocabulary != nil {
		config.CheckLabels(a.cfg, a.providers.Vocabulary)
	}
	return nil
}

// initHTTP builds the control surface and the HTTP server.
func (a *App) initHTTP() error {
	var checkers []health.Checker
	if p, ok := a.providers.Classifier.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("classifier", p))
	}
	if p, ok := a.providers.EventLog.(eventlog.Pinger); ok {
		checkers = append(checkers, health.PingChecker("eventlog", p))
	}

	archive, _ := a.providers.EventLog.(eventlog.Archive)
	srv, err := web.New(web.Config{
		Monitor:        a.monitor,
		Vocabulary:     a.providers.Vocabulary,
		Logs:           archive,
		Live:           a.hub,
		Health:         health.New(checkers, health.WithRunning(a.monitor.Running)),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	})
	if err != nil {
		return err
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// closerOf adapts the two Close shapes used by providers.
func closerOf(v any) func() error {
	switch c := v.(type) {
	case io.Closer:
		return c.Close
	case interface{ Close() }:
		return func() error { c.Close(); return nil }
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Monitor returns the monitoring loop.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Hub returns the live broadcast hub.
func (a *App) Hub() *live.Hub { return a.hub }

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, starts background tasks and, when monitor.autostart is set,
// the monitoring loop. It blocks until ctx is cancelled or the HTTP server
// fails, and returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// ── HTTP server ──────────────────────────────────────────────────────
	g.Go(func() error {
		var err error
		tls := a.cfg.Server.TLS
		switch {
		case a.listener != nil && tls != nil:
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		case a.listener != nil:
			err = a.server.Serve(a.listener)
		case tls != nil:
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		default:
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	})

	// ── Discord dashboard ────────────────────────────────────────────────
	if a.dashboard != nil {
		g.Go(func() error { return a.dashboard.Run(gctx) })
	}

	// ── Config watcher ───────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			a.ApplyDiff(d)
		}, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Warn("config watcher disabled", "path", a.configPath, "err", err)
		} else {
			a.watcher = w
			g.Go(func() error {
				<-gctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	// ── Autostart ────────────────────────────────────────────────────────
	if a.cfg.Monitor.Autostart {
		a.monitor.Start()
		slog.Info("monitoring started automatically")
	}

	slog.Info("app running", "listen_addr", a.server.Addr)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyDiff applies the hot-reloadable parts of a config change: log level,
// enabled sounds and schedule.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EnabledChanged {
		if a.providers.Vocabulary != nil {
			cfg := &config.Config{Monitor: config.MonitorConfig{EnabledSounds: d.NewEnabled}}
			config.CheckLabels(cfg, a.providers.Vocabulary)
		}
		a.monitor.SetEnabled(alert.NewEnabledSet(d.NewEnabled...))
		slog.Info("enabled sounds reloaded", "count", len(d.NewEnabled))
	}
	if d.ScheduleChanged {
		a.monitor.SetSchedule(d.NewSchedule)
		slog.Info("schedule reloaded",
			"enabled", d.NewSchedule.Enabled,
			"start", d.NewSchedule.Start.String(),
			"end", d.NewSchedule.End.String(),
			"days", d.NewSchedule.Days.Names(),
		)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// Info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops monitoring, waits for in-flight notifications, and then tears
// down the remaining subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.dashboard != nil {
			a.dashboard.Stop()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		// Stop the loop first so nothing publishes into a closed hub.
		if err := a.monitor.Close(ctx); err != nil {
			slog.Warn("monitor close error", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
