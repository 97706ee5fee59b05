// Package monitor runs the sound monitoring loop: capture a window of audio,
// classify it, and turn confident detections of enabled labels into logged,
// counted, broadcast and (rate-limited) notified alerts.
//
// A [Monitor] is Idle until [Monitor.Start] and returns to Idle after
// [Monitor.Stop]. At most one loop goroutine runs at a time. Stop is
// cooperative: it is observed between cycles and during idle or backoff
// sleeps, never in the middle of a capture or classification.
//
// Pipeline failures never end the loop. They are wrapped in a [*StageError],
// logged, counted and followed by a short backoff.
//
// All exported methods are safe for concurrent use.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/internal/observe"
	"github.com/MrWong99/soundalert/internal/stats"
	"github.com/MrWong99/soundalert/pkg/audio"
	"github.com/MrWong99/soundalert/pkg/classifier"
)

// Defaults for [Config].
const (
	DefaultSampleRate   = 48000
	DefaultChannels     = 1
	DefaultWindow       = 2 * time.Second
	DefaultTargetRate   = 16000
	DefaultTargetLength = 15600
	DefaultThreshold    = 0.25
	DefaultIdleInterval = 10 * time.Second
	DefaultErrorBackoff = time.Second
	DefaultHistorySize  = 50
)

// notifyTimeout bounds a single side-notification delivery.
const notifyTimeout = 15 * time.Second

// Config holds the loop's tuning parameters. Zero fields take the defaults
// above.
type Config struct {
	// SampleRate and Channels describe the capture format.
	SampleRate int
	Channels   int

	// Window is the duration of audio captured per cycle.
	Window time.Duration

	// TargetRate and TargetLength describe the waveform the classifier
	// expects (16 kHz, 15600 samples for YAMNet).
	TargetRate   int
	TargetLength int

	// Threshold is the acceptance threshold. Detections whose confidence is
	// less than or equal to it are discarded.
	Threshold float32

	// IdleInterval is the sleep between schedule checks while outside the
	// active window.
	IdleInterval time.Duration

	// ErrorBackoff is the sleep after a failed cycle.
	ErrorBackoff time.Duration

	// HistorySize caps the recent-alerts history.
	HistorySize int

	// TimelineSize caps the stats timeline.
	TimelineSize int

	// BaseCooldown is the notification cooldown for low-tier labels.
	BaseCooldown time.Duration

	// Enabled and Schedule are the initial filter and schedule.
	Enabled  alert.EnabledSet
	Schedule *alert.Schedule
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.TargetRate == 0 {
		c.TargetRate = DefaultTargetRate
	}
	if c.TargetLength == 0 {
		c.TargetLength = DefaultTargetLength
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.IdleInterval == 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.SampleRate < 0 || c.TargetRate < 0 || c.TargetLength < 0 {
		errs = append(errs, fmt.Errorf("sample rates and target length must be positive"))
	}
	if c.Channels < 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", c.Channels))
	}
	if c.Window < 0 || c.IdleInterval < 0 || c.ErrorBackoff < 0 {
		errs = append(errs, fmt.Errorf("window, idle interval and error backoff must not be negative"))
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in [0, 1), got %v", c.Threshold))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("history size must not be negative, got %d", c.HistorySize))
	}
	return errors.Join(errs...)
}

// Publisher receives every accepted detection of an enabled label. Publish
// must not block. [*live.Hub] satisfies it.
type Publisher interface {
	Publish(ev alert.DetectionEvent)
}

// Deps are the loop's collaborators.
type Deps struct {
	// Capturer, Classifier, Vocabulary and Log are required.
	Capturer   audio.Capturer
	Classifier classifier.Classifier
	Vocabulary *classifier.Vocabulary
	Log        eventlog.Sink

	// Policy maps labels to priorities. Default: the built-in table.
	Policy *alert.PriorityPolicy

	// Live receives every alert. Optional.
	Live Publisher

	// Notifier receives side notifications accepted by the cooldown.
	// Default: [notify.Nop].
	Notifier notify.Notifier

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the wall clock used for schedule checks and event timestamps.
	// Default: time.Now.
	Now func() time.Time
}

// Outcome is what a single cycle did.
type Outcome int

const (
	// OutcomeIdle means the schedule window was closed; nothing was captured.
	OutcomeIdle Outcome = iota

	// OutcomeDiscarded means the best confidence did not exceed the threshold.
	OutcomeDiscarded

	// OutcomeDisabled means the detected label is not in the enabled set.
	OutcomeDisabled

	// OutcomeThrottled means an alert was emitted but its notification was
	// suppressed by the cooldown.
	OutcomeThrottled

	// OutcomeNotified means an alert was emitted and a notification was
	// dispatched.
	OutcomeNotified
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeNotified:
		return "notified"
	default:
		return "unknown"
	}
}

// Cycle is the result of [Monitor.RunOnce].
type Cycle struct {
	Outcome Outcome

	// Label and Confidence are the reduced classifier verdict. Empty for
	// OutcomeIdle.
	Label      string
	Confidence float32

	// Event is the emitted alert for OutcomeThrottled and OutcomeNotified.
	Event alert.DetectionEvent
}

// Monitor owns the monitoring loop and all of its mutable state.
type Monitor struct {
	cfg        Config
	capturer   audio.Capturer
	classifier classifier.Classifier
	vocab      *classifier.Vocabulary
	log        eventlog.Sink
	policy     *alert.PriorityPolicy
	live       Publisher
	notifier   notify.Notifier
	metrics    *observe.Metrics
	now        func() time.Time

	enabled  atomic.Pointer[alert.EnabledSet]
	schedule atomic.Pointer[alert.Schedule]
	throttle *alert.Throttle
	stats    *stats.Aggregator
	ids      alert.IDSource

	histMu  sync.Mutex
	history *stats.Ring[alert.DetectionEvent]

	// baseCtx outlives Stop and is cancelled only by Close. Captures and
	// notifications run under it.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	notifyWG sync.WaitGroup
}

// New validates cfg and deps and returns an idle Monitor.
func New(cfg Config, deps Deps) (*Monitor, error) {
	cfg = cfg.withDefaults()
	var errs []error
	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if deps.Capturer == nil {
		errs = append(errs, errors.New("capturer is required"))
	}
	if deps.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if deps.Vocabulary == nil {
		errs = append(errs, errors.New("vocabulary is required"))
	}
	if deps.Log == nil {
		errs = append(errs, errors.New("log sink is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("monitor: new: %w", errors.Join(errs...))
	}

	if deps.Policy == nil {
		deps.Policy = alert.NewPriorityPolicy(nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:        cfg,
		capturer:   deps.Capturer,
		classifier: deps.Classifier,
		vocab:      deps.Vocabulary,
		log:        deps.Log,
		policy:     deps.Policy,
		live:       deps.Live,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		now:        deps.Now,
		throttle:   alert.NewThrottle(cfg.BaseCooldown),
		stats:      stats.New(cfg.TimelineSize),
		history:    stats.NewRing[alert.DetectionEvent](cfg.HistorySize),
		baseCtx:    ctx,
		cancelBase: cancel,
	}

	sched := alert.DefaultSchedule()
	if cfg.Schedule != nil {
		sched = *cfg.Schedule
	}
	m.SetSchedule(sched)
	m.SetEnabled(cfg.Enabled)
	return m, nil
}

// Start switches the monitor to Running. It returns false if the monitor is
// already running or has been closed.
//
// When called shortly after Stop, the new loop waits for the previous loop to
// finish its in-flight cycle before capturing.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.closed {
		return false
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go m.loop(stop, m.done, done)
	m.running = true
	m.stop = stop
	m.done = done
	return true
}

// Stop requests the loop to return to Idle. It returns false if the monitor
// was not running. Stop does not wait; use [Monitor.Close] for that.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	close(m.stop)
	m.running = false
	return true
}

// Running reports whether the monitor is in the Running state.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close stops the loop and waits for it and any in-flight notifications to
// finish. If ctx expires first, pending captures and notifications are
// cancelled and ctx.Err() is returned. Close is idempotent.
func (m *Monitor) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		close(m.stop)
		m.running = false
	}
	m.closed = true
	done := m.done
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		if done != nil {
			<-done
		}
		m.notifyWG.Wait()
		close(finished)
	}()

	defer m.cancelBase()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetEnabled replaces the enabled-label filter. An empty set enables every
// label.
func (m *Monitor) SetEnabled(set alert.EnabledSet) {
	m.enabled.Store(&set)
}

// Enabled returns the current enabled-label filter.
func (m *Monitor) Enabled() alert.EnabledSet {
	return *m.enabled.Load()
}

// SetSchedule replaces the schedule.
func (m *Monitor) SetSchedule(s alert.Schedule) {
	m.schedule.Store(&s)
}

// Schedule returns the current schedule.
func (m *Monitor) Schedule() alert.Schedule {
	return *m.schedule.Load()
}

// Stats returns a snapshot of the detection statistics.
func (m *Monitor) Stats() stats.Snapshot {
	return m.stats.Snapshot()
}

// RecentAlerts returns the recent-alerts history, oldest first.
func (m *Monitor) RecentAlerts() []alert.DetectionEvent {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	return m.history.Items()
}

// Policy returns the label priority policy.
func (m *Monitor) Policy() *alert.PriorityPolicy { return m.policy }

// CooldownRemaining reports how long notifications for label stay
// suppressed.
func (m *Monitor) CooldownRemaining(label string) time.Duration {
	return m.throttle.Remaining(label, m.policy.PriorityOf(label), m.now())
}

// loop is the body of the loop goroutine. prev is the done channel of the
// previous loop, if any.
func (m *Monitor) loop(stop <-chan struct{}, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	ctx := m.baseCtx
	m.stats.MarkSessionStart(m.now())
	m.metrics.MonitorRunning.Add(ctx, 1)
	defer m.metrics.MonitorRunning.Add(context.WithoutCancel(ctx), -1)
	slog.Info("monitoring started",
		"window", m.cfg.Window,
		"sample_rate", m.cfg.SampleRate,
		"threshold", m.cfg.Threshold,
	)
	defer slog.Info("monitoring stopped")

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		var wait time.Duration
		c, err := m.RunOnce(ctx)
		switch {
		case err != nil:
			wait = m.cfg.ErrorBackoff
		case c.Outcome == OutcomeIdle:
			wait = m.cfg.IdleInterval
		}
		if wait > 0 && !m.sleep(ctx, stop, wait) {
			return
		}
	}
}

// sleep waits for d and reports false if the loop should end instead.
func (m *Monitor) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// RunOnce executes one pipeline cycle synchronously. The loop calls it
// repeatedly; it is exported for tests and one-shot tools. A returned error
// is always a [*StageError] and has already been logged and counted.
func (m *Monitor) RunOnce(ctx context.Context) (Cycle, error) {
	if !alert.IsActive(m.Schedule(), m.now()) {
		slog.Debug("outside schedule window, idling", "interval", m.cfg.IdleInterval)
		return Cycle{Outcome: OutcomeIdle}, nil
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanCycle)
	defer span.End()
	start := time.Now()

	c, err := m.process(ctx)
	m.metrics.CycleDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("outcome", c.Outcome.String())),
	)
	if err != nil {
		var se *StageError
		errors.As(err, &se)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(se.Stage))
		m.metrics.RecordStageError(ctx, string(se.Stage))
		observe.Logger(ctx).Error("monitoring cycle failed",
			"stage", se.Stage,
			"backoff", m.cfg.ErrorBackoff,
			"err", se.Err,
		)
		return c, err
	}
	return c, nil
}

// process runs capture → preprocess → classify → decide.
func (m *Monitor) process(ctx context.Context) (Cycle, error) {
	start := time.Now()
	sctx, span := observe.StartStage(ctx, string(StageCapture))
	raw, err := m.capturer.Capture(sctx, m.cfg.Window, m.cfg.SampleRate, m.cfg.Channels)
	observe.EndStage(span, err)
	captureTook := time.Since(start)
	m.stats.RecordCapture(captureTook)
	m.metrics.CaptureDuration.Record(ctx, captureTook.Seconds())
	if err != nil {
		return Cycle{Outcome: OutcomeDiscarded}, stageErr(StageCapture, err)
	}

	wave, err := audio.Prepare(raw, m.cfg.SampleRate, m.cfg.TargetRate, m.cfg.TargetLength)
	if err != nil {
		return Cycle{Outcome: OutcomeDiscarded}, stageErr(StagePreprocess, err)
	}

	start = time.Now()
	sctx, span = observe.StartStage(ctx, string(StageClassify))
	scores, err := m.classifier.Infer(sctx, wave)
	observe.EndStage(span, err)
	classifyTook := time.Since(start)
	m.stats.RecordClassify(classifyTook)
	m.metrics.ClassifyDuration.Record(ctx, classifyTook.Seconds())
	if err != nil {
		return Cycle{Outcome: OutcomeDiscarded}, stageErr(StageClassify, err)
	}
	idx, conf, err := classifier.Reduce(scores)
	if err != nil {
		return Cycle{Outcome: OutcomeDiscarded}, stageErr(StageClassify, err)
	}

	if !(conf > m.cfg.Threshold) {
		return Cycle{Outcome: OutcomeDiscarded, Confidence: conf}, nil
	}
	// Models emitting logits or unnormalised scores can exceed 1.
	conf = min(conf, 1)

	label := m.vocab.Resolve(idx)
	priority := m.policy.PriorityOf(label)
	observe.AnnotateDetection(ctx, label, conf, priority)
	c := Cycle{Label: label, Confidence: conf}

	if !m.Enabled().Allows(label) {
		slog.Debug("detection not enabled", "label", label, "confidence", conf)
		c.Outcome = OutcomeDisabled
		return c, nil
	}

	now := m.now()
	ev := alert.DetectionEvent{
		ID:         m.ids.Next(now),
		Label:      label,
		Confidence: conf,
		Priority:   priority,
		Timestamp:  now,
	}
	c.Event = ev
	c.Outcome = OutcomeThrottled

	sctx, span = observe.StartStage(ctx, string(StageLog))
	err = m.log.Append(sctx, eventlog.Record{
		Label:      ev.Label,
		Confidence: ev.Confidence,
		Priority:   ev.Priority,
		Timestamp:  ev.Timestamp,
	})
	observe.EndStage(span, err)
	if err != nil {
		return Cycle{Outcome: OutcomeDiscarded, Label: label, Confidence: conf}, stageErr(StageLog, err)
	}

	m.stats.Record(ev)
	tier := alert.TierOf(priority)
	m.metrics.RecordDetection(ctx, label, tier.String())

	fire := m.throttle.ShouldFire(label, priority, now)

	m.histMu.Lock()
	m.history.Push(ev)
	m.histMu.Unlock()
	if m.live != nil {
		m.live.Publish(ev)
	}

	slog.Info("sound detected",
		"label", label,
		"confidence", conf,
		"priority", priority,
		"tier", tier.String(),
	)

	if !fire {
		m.metrics.RecordNotification(ctx, observe.NotificationThrottled)
		slog.Info("notification throttled",
			"label", label,
			"remaining", m.throttle.Remaining(label, priority, now),
		)
		return c, nil
	}
	m.dispatch(ev)
	c.Outcome = OutcomeNotified
	return c, nil
}

// dispatch delivers a side notification in the background. Failures are
// logged and counted, never returned to the loop.
func (m *Monitor) dispatch(ev alert.DetectionEvent) {
	note := notify.New(ev)
	m.notifyWG.Go(func() {
		ctx, cancel := context.WithTimeout(m.baseCtx, notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, note); err != nil {
			err = stageErr(StageNotify, err)
			m.metrics.RecordNotification(ctx, observe.NotificationFailed)
			m.metrics.RecordStageError(ctx, string(StageNotify))
			slog.Warn("notification failed", "label", ev.Label, "err", err)
			return
		}
		m.metrics.RecordNotification(ctx, observe.NotificationSent)
		slog.Debug("notification sent", "label", ev.Label, "tier", note.Tier)
	})
}
