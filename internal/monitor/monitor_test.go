package monitor_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/monitor"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/internal/observe"
	audiomock "github.com/MrWong99/soundalert/pkg/audio/mock"
	"github.com/MrWong99/soundalert/pkg/classifier"
	classifiermock "github.com/MrWong99/soundalert/pkg/classifier/mock"
)

// ─── test doubles ────────────────────────────────────────────────────────────

type recordingLog struct {
	mu      sync.Mutex
	records []eventlog.Record
	err     error
}

func (l *recordingLog) Append(_ context.Context, rec eventlog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *recordingLog) Records() []eventlog.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]eventlog.Record(nil), l.records...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []alert.DetectionEvent
}

func (p *recordingPublisher) Publish(ev alert.DetectionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []alert.DetectionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]alert.DetectionEvent(nil), p.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── harness ─────────────────────────────────────────────────────────────────

var labels = []string{"Speech", "Fire alarm", "Knock", "Siren"}

type harness struct {
	m        *monitor.Monitor
	capturer *audiomock.Capturer
	model    *classifiermock.Classifier
	log      *recordingLog
	live     *recordingPublisher
	notes    chan notify.Notification
	clock    *fakeClock
	reader   *sdkmetric.ManualReader
}

type option func(*monitor.Config, *monitor.Deps)

func newHarness(t *testing.T, results []classifiermock.Result, opts ...option) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		capturer: &audiomock.Capturer{},
		model:    &classifiermock.Classifier{Results: results},
		log:      &recordingLog{},
		live:     &recordingPublisher{},
		notes:    make(chan notify.Notification, 16),
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 23, 30, 0, 0, time.Local)}, // Monday
		reader:   reader,
	}

	cfg := monitor.Config{
		IdleInterval: 5 * time.Millisecond,
		ErrorBackoff: time.Millisecond,
	}
	deps := monitor.Deps{
		Capturer:   h.capturer,
		Classifier: h.model,
		Vocabulary: classifier.NewVocabulary(labels),
		Log:        h.log,
		Live:       h.live,
		Notifier: notify.NotifierFunc(func(_ context.Context, n notify.Notification) error {
			h.notes <- n
			return nil
		}),
		Metrics: metrics,
		Now:     h.clock.Now,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}

	h.m, err = monitor.New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.m.Close(ctx)
	})
	return h
}

// closeMonitor waits for the loop and in-flight notifications.
func (h *harness) closeMonitor(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func (h *harness) counter(t *testing.T, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, want sum", name, met.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func fireAlarm(conf float32) classifiermock.Result {
	return classifiermock.Result{Scores: classifiermock.OneHot(len(labels), 1, conf)}
}

// ─── construction ────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := monitor.New(monitor.Config{}, monitor.Deps{})
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
	for _, want := range []string{"capturer", "classifier", "vocabulary", "log sink"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNew_RejectsInvalidThreshold(t *testing.T) {
	t.Parallel()

	_, err := monitor.New(monitor.Config{Threshold: 1.5}, monitor.Deps{
		Capturer:   &audiomock.Capturer{},
		Classifier: &classifiermock.Classifier{},
		Vocabulary: classifier.NewVocabulary(labels),
		Log:        &recordingLog{},
	})
	if err == nil || !strings.Contains(err.Error(), "threshold") {
		t.Errorf("err = %v, want threshold error", err)
	}
}

// ─── single cycles ───────────────────────────────────────────────────────────

func TestRunOnce_FireAlarmEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.82)})

	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Outcome != monitor.OutcomeNotified {
		t.Fatalf("Outcome = %s, want notified", c.Outcome)
	}
	if c.Event.Label != "Fire alarm" || c.Event.Priority != 10 || c.Event.Confidence != 0.82 {
		t.Errorf("Event = %+v", c.Event)
	}
	if !c.Event.Timestamp.Equal(h.clock.Now()) {
		t.Errorf("Timestamp = %v, want clock now", c.Event.Timestamp)
	}

	recs := h.log.Records()
	if len(recs) != 1 || recs[0].Label != "Fire alarm" || recs[0].Priority != 10 {
		t.Errorf("log records = %+v", recs)
	}
	snap := h.m.Stats()
	if snap.Total != 1 || snap.SoundFrequency["Fire alarm"] != 1 || len(snap.Timeline) != 1 {
		t.Errorf("stats = %+v", snap)
	}
	if evs := h.live.Events(); len(evs) != 1 || evs[0].ID != c.Event.ID {
		t.Errorf("published = %+v", evs)
	}
	if got := h.m.RecentAlerts(); len(got) != 1 || got[0].ID != c.Event.ID {
		t.Errorf("RecentAlerts = %+v", got)
	}
	if got := h.m.CooldownRemaining("Fire alarm"); got != 10*time.Second {
		t.Errorf("CooldownRemaining = %v, want 10s (cooldown set to now)", got)
	}

	select {
	case n := <-h.notes:
		if n.Title != "🔊 Fire alarm detected" || n.Tier != "critical" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	h.closeMonitor(t)
	if got := h.counter(t, "soundalert.notifications", "status", "sent"); got != 1 {
		t.Errorf("sent notifications = %d, want 1", got)
	}
	if got := h.counter(t, "soundalert.detections", "label", "Fire alarm"); got != 1 {
		t.Errorf("detections = %d, want 1", got)
	}
}

func TestRunOnce_SecondDetectionIsThrottled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.82)})
	ctx := context.Background()

	if c, err := h.m.RunOnce(ctx); err != nil || c.Outcome != monitor.OutcomeNotified {
		t.Fatalf("first cycle = %s, %v", c.Outcome, err)
	}
	h.clock.Advance(5 * time.Second)
	c, err := h.m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Outcome != monitor.OutcomeThrottled {
		t.Fatalf("Outcome = %s, want throttled", c.Outcome)
	}

	h.closeMonitor(t)
	if got := len(h.log.Records()); got != 2 {
		t.Errorf("log records = %d, want 2", got)
	}
	if got := h.m.Stats().Total; got != 2 {
		t.Errorf("stats total = %d, want 2", got)
	}
	if got := len(h.live.Events()); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
	if got := len(h.notes); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
	if got := h.counter(t, "soundalert.notifications", "status", "throttled"); got != 1 {
		t.Errorf("throttled counter = %d, want 1", got)
	}

	// Past the 10s critical cooldown it fires again.
	h2 := newHarness(t, []classifiermock.Result{fireAlarm(0.82)})
	_, _ = h2.m.RunOnce(ctx)
	h2.clock.Advance(11 * time.Second)
	if c, _ := h2.m.RunOnce(ctx); c.Outcome != monitor.OutcomeNotified {
		t.Errorf("after 11s Outcome = %s, want notified", c.Outcome)
	}
}

func TestRunOnce_BelowThresholdHasNoEffect(t *testing.T) {
	t.Parallel()

	for _, conf := range []float32{0.10, 0.25} {
		h := newHarness(t, []classifiermock.Result{fireAlarm(conf)})
		c, err := h.m.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if c.Outcome != monitor.OutcomeDiscarded {
			t.Errorf("conf %v: Outcome = %s, want discarded", conf, c.Outcome)
		}
		h.closeMonitor(t)
		if len(h.log.Records()) != 0 || len(h.live.Events()) != 0 || len(h.notes) != 0 {
			t.Errorf("conf %v: side effects on a discarded cycle", conf)
		}
		if h.m.Stats().Total != 0 || len(h.m.RecentAlerts()) != 0 {
			t.Errorf("conf %v: state changed on a discarded cycle", conf)
		}
	}
}

func TestRunOnce_NonFiniteScoresHaveNoEffect(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		h := newHarness(t, []classifiermock.Result{{Scores: classifier.Scores{{float32(v), 0.1, 0.1, 0.1}}}})
		c, err := h.m.RunOnce(context.Background())
		if err == nil {
			t.Errorf("score %v: expected classify error", v)
		}
		if c.Outcome != monitor.OutcomeDiscarded {
			t.Errorf("score %v: Outcome = %s, want discarded", v, c.Outcome)
		}
		h.closeMonitor(t)
		if len(h.log.Records()) != 0 || len(h.live.Events()) != 0 || len(h.notes) != 0 {
			t.Errorf("score %v: side effects on a rejected cycle", v)
		}
		if h.m.Stats().Total != 0 || len(h.m.RecentAlerts()) != 0 {
			t.Errorf("score %v: state changed on a rejected cycle", v)
		}
	}
}

func TestRunOnce_ClampsConfidence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(1.7)})
	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Confidence != 1 || c.Event.Confidence != 1 {
		t.Errorf("confidence = %v (event %v), want 1", c.Confidence, c.Event.Confidence)
	}
	if recs := h.log.Records(); len(recs) != 1 || recs[0].Confidence != 1 {
		t.Errorf("logged records = %+v, want one with confidence 1", recs)
	}
}

func TestRunOnce_DisabledLabel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.9)})
	h.m.SetEnabled(alert.NewEnabledSet("Knock", "fire alarm"))

	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Outcome != monitor.OutcomeDisabled || c.Label != "Fire alarm" {
		t.Errorf("cycle = %+v, want disabled Fire alarm", c)
	}
	if len(h.log.Records()) != 0 || len(h.live.Events()) != 0 {
		t.Error("disabled label produced downstream effects")
	}

	h.m.SetEnabled(alert.NewEnabledSet("Fire alarm"))
	if c, _ := h.m.RunOnce(context.Background()); c.Outcome != monitor.OutcomeNotified {
		t.Errorf("Outcome = %s after enabling, want notified", c.Outcome)
	}
}

func TestRunOnce_UnknownIndexGetsPlaceholder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{{Scores: classifiermock.OneHot(6, 5, 0.7)}})
	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Event.Label != "Unknown sound #5" || c.Event.Priority != 1 {
		t.Errorf("Event = %+v, want placeholder label with priority 1", c.Event)
	}
}

func TestRunOnce_OutsideScheduleDoesNotCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.9)})
	h.m.SetSchedule(alert.Schedule{
		Enabled: true,
		Start:   alert.MustTimeOfDay("08:00"),
		End:     alert.MustTimeOfDay("09:00"),
		Days:    alert.AllDays,
	})

	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if c.Outcome != monitor.OutcomeIdle {
		t.Errorf("Outcome = %s, want idle", c.Outcome)
	}
	if h.capturer.CallCount() != 0 {
		t.Errorf("capturer called %d times outside the schedule", h.capturer.CallCount())
	}
}

func TestRunOnce_PreparesWaveform(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.1)})
	if _, err := h.m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(h.capturer.Calls) != 1 {
		t.Fatalf("capture calls = %d", len(h.capturer.Calls))
	}
	call := h.capturer.Calls[0]
	if call.Duration != 2*time.Second || call.SampleRate != 48000 || call.Channels != 1 {
		t.Errorf("capture call = %+v, want 2s at 48000Hz mono", call)
	}
	if len(h.model.Waveforms) != 1 || h.model.Waveforms[0] != 15600 {
		t.Errorf("classifier waveforms = %v, want [15600]", h.model.Waveforms)
	}
}

// ─── stage errors ────────────────────────────────────────────────────────────

func TestRunOnce_StageErrors(t *testing.T) {
	t.Parallel()

	deviceBusy := errors.New("arecord: device busy")
	modelDown := errors.New("connection refused")
	diskFull := errors.New("no space left on device")

	tests := []struct {
		name      string
		setup     func(h *harness)
		results   []classifiermock.Result
		wantStage monitor.Stage
		wantKind  error
		wantCause error
	}{
		{
			name:      "capture",
			setup:     func(h *harness) { h.capturer.Results = []audiomock.Result{{Err: deviceBusy}} },
			results:   []classifiermock.Result{fireAlarm(0.9)},
			wantStage: monitor.StageCapture,
			wantKind:  monitor.ErrCapture,
			wantCause: deviceBusy,
		},
		{
			name:      "classify",
			results:   []classifiermock.Result{{Err: modelDown}},
			wantStage: monitor.StageClassify,
			wantKind:  monitor.ErrClassification,
			wantCause: modelDown,
		},
		{
			name:      "reduce",
			results:   []classifiermock.Result{{Scores: classifier.Scores{}}},
			wantStage: monitor.StageClassify,
			wantKind:  monitor.ErrClassification,
			wantCause: classifier.ErrEmptyScores,
		},
		{
			name:      "non-finite scores",
			results:   []classifiermock.Result{{Scores: classifier.Scores{{float32(math.NaN()), 0.1, 0.1, 0.1}}}},
			wantStage: monitor.StageClassify,
			wantKind:  monitor.ErrClassification,
			wantCause: classifier.ErrNonFiniteScores,
		},
		{
			name:      "log",
			setup:     func(h *harness) { h.log.err = diskFull },
			results:   []classifiermock.Result{fireAlarm(0.9)},
			wantStage: monitor.StageLog,
			wantKind:  monitor.ErrLog,
			wantCause: diskFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.results)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.m.RunOnce(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			var se *monitor.StageError
			if !errors.As(err, &se) || se.Stage != tt.wantStage {
				t.Fatalf("err = %v, want StageError at %s", err, tt.wantStage)
			}
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantKind)
			}
			if !errors.Is(err, tt.wantCause) {
				t.Errorf("cause %v not preserved in %v", tt.wantCause, err)
			}
			if len(h.live.Events()) != 0 || h.m.Stats().Total != 0 {
				t.Error("failed cycle produced downstream effects")
			}
			if got := h.counter(t, "soundalert.stage.errors", "stage", string(tt.wantStage)); got != 1 {
				t.Errorf("stage error counter = %d, want 1", got)
			}
		})
	}
}

func TestRunOnce_NotificationFailureIsNotPropagated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.9)}, func(_ *monitor.Config, d *monitor.Deps) {
		d.Notifier = notify.NotifierFunc(func(context.Context, notify.Notification) error {
			return notify.ErrDelivery
		})
	})

	c, err := h.m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned %v, want nil for a notification failure", err)
	}
	if c.Outcome != monitor.OutcomeNotified {
		t.Errorf("Outcome = %s, want notified", c.Outcome)
	}
	h.closeMonitor(t)
	if got := h.counter(t, "soundalert.notifications", "status", "failed"); got != 1 {
		t.Errorf("failed notifications = %d, want 1", got)
	}
	if got := h.counter(t, "soundalert.stage.errors", "stage", "notify"); got != 1 {
		t.Errorf("notify stage errors = %d, want 1", got)
	}
}

func TestStageError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &monitor.StageError{Stage: monitor.StageNotify, Err: cause}
	if err.Error() != "monitor: notify: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, monitor.ErrNotification) || !errors.Is(err, cause) {
		t.Error("StageError does not match its kind and cause")
	}
	if errors.Is(err, monitor.ErrCapture) {
		t.Error("notify stage error matched ErrCapture")
	}
	pre := &monitor.StageError{Stage: monitor.StagePreprocess, Err: cause}
	if !errors.Is(pre, monitor.ErrClassification) {
		t.Error("preprocess stage should be a classification error")
	}
}

// ─── history ─────────────────────────────────────────────────────────────────

func TestRecentAlerts_Bounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.9)}, func(c *monitor.Config, _ *monitor.Deps) {
		c.HistorySize = 3
	})
	for range 5 {
		if _, err := h.m.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		h.clock.Advance(time.Second)
	}

	got := h.m.RecentAlerts()
	if len(got) != 3 {
		t.Fatalf("RecentAlerts len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Errorf("IDs not increasing: %d then %d", got[i-1].ID, got[i].ID)
		}
	}
	if h.m.Stats().Total != 5 {
		t.Errorf("stats total = %d, want 5", h.m.Stats().Total)
	}
}

// ─── loop lifecycle ──────────────────────────────────────────────────────────

func TestStartStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.1)})
	h.capturer.OnCapture = func(context.Context) { time.Sleep(time.Millisecond) }

	if h.m.Running() {
		t.Fatal("new monitor is running")
	}
	if h.m.Stop() {
		t.Error("Stop on idle monitor returned true")
	}
	if !h.m.Start() {
		t.Fatal("Start returned false")
	}
	if h.m.Start() {
		t.Error("second Start returned true")
	}
	if !h.m.Running() {
		t.Error("Running = false after Start")
	}

	waitFor(t, "captures", func() bool { return h.capturer.CallCount() >= 3 })
	if h.m.Stats().SessionStart.IsZero() {
		t.Error("session start not set")
	}

	if !h.m.Stop() {
		t.Error("Stop returned false")
	}
	if h.m.Running() {
		t.Error("Running = true after Stop")
	}
	h.closeMonitor(t)

	n := h.capturer.CallCount()
	time.Sleep(20 * time.Millisecond)
	if h.capturer.CallCount() != n {
		t.Error("loop kept capturing after Close")
	}
	if h.m.Start() {
		t.Error("Start after Close returned true")
	}
}

func TestRestartWaitsForPreviousLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.1)})
	var (
		mu       sync.Mutex
		inflight int
		overlap  bool
	)
	h.capturer.OnCapture = func(context.Context) {
		mu.Lock()
		inflight++
		if inflight > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
	}

	for range 10 {
		h.m.Start()
		time.Sleep(time.Millisecond)
		h.m.Stop()
	}
	h.m.Start()
	waitFor(t, "captures", func() bool { return h.capturer.CallCount() >= 5 })
	h.closeMonitor(t)

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("two loops captured concurrently")
	}
}

func TestLoop_SurvivesErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{{Err: errors.New("model crashed")}, fireAlarm(0.9)})
	h.capturer.Results = []audiomock.Result{
		{Err: errors.New("device busy")},
		{Err: errors.New("device busy")},
		{Samples: make([]float32, 96000)},
	}

	h.m.Start()
	waitFor(t, "an alert after errors", func() bool { return len(h.live.Events()) > 0 })
	h.closeMonitor(t)

	if got := h.counter(t, "soundalert.stage.errors", "stage", "capture"); got != 2 {
		t.Errorf("capture errors = %d, want 2", got)
	}
	if got := h.counter(t, "soundalert.stage.errors", "stage", "classify"); got != 1 {
		t.Errorf("classify errors = %d, want 1", got)
	}
}

func TestStop_InterruptsIdleSleep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, func(c *monitor.Config, _ *monitor.Deps) {
		c.IdleInterval = time.Hour
		c.Schedule = &alert.Schedule{
			Enabled: true,
			Start:   alert.MustTimeOfDay("08:00"),
			End:     alert.MustTimeOfDay("09:00"),
			Days:    alert.AllDays,
		}
	})

	h.m.Start()
	time.Sleep(5 * time.Millisecond)
	h.m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.m.Close(ctx); err != nil {
		t.Fatalf("Close: %v (idle sleep not interrupted)", err)
	}
	if h.capturer.CallCount() != 0 {
		t.Error("captured outside the schedule window")
	}
}

func TestConcurrentControl(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []classifiermock.Result{fireAlarm(0.9)})
	h.capturer.OnCapture = func(context.Context) { time.Sleep(100 * time.Microsecond) }
	h.m.Start()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Go(func() {
			for j := range 50 {
				switch (i + j) % 4 {
				case 0:
					h.m.SetEnabled(alert.NewEnabledSet("Fire alarm"))
				case 1:
					h.m.SetSchedule(alert.DefaultSchedule())
				case 2:
					_ = h.m.Stats()
				default:
					_ = h.m.RecentAlerts()
				}
			}
		})
	}
	wg.Wait()
	h.closeMonitor(t)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	tests := map[monitor.Outcome]string{
		monitor.OutcomeIdle:      "idle",
		monitor.OutcomeDiscarded: "discarded",
		monitor.OutcomeDisabled:  "disabled",
		monitor.OutcomeThrottled: "throttled",
		monitor.OutcomeNotified:  "notified",
		monitor.Outcome(42):      "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
