package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/metrics"
)

// DefaultInterval is the tick interval used when Start is given none.
const DefaultInterval = 5 * time.Minute

// ErrPassInFlight is returned by RunOnce while another pass is running.
var ErrPassInFlight = errors.New("evaluation pass already in flight")

// Summary describes one evaluation pass.
type Summary struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Loaded       int       `json:"loaded"`
	Dropped      int       `json:"dropped"`
	Groups       int       `json:"groups"`
	FailedGroups int       `json:"failed_groups"`
	Triggered    int       `json:"triggered"`
	Suppressed   int       `json:"suppressed"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error,omitempty"`
}

type tally struct {
	failedGroups, triggered, suppressed, sent, failed atomic.Int64
}

// Scheduler periodically loads enabled alerts, evaluates them against live
// provider values and notifies owners of alerts that fire.
type Scheduler struct {
	repo     Repository
	provider Provider
	notifier *Notifier
	ledger   Ledger
	gate     *alert.Gate
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	last *Summary

	// running is the single-flight guard; inFlight is held for the whole
	// pass so Stop can wait for it.
	running  atomic.Bool
	inFlight sync.Mutex
}

type Option func(*Scheduler)

// WithLedger adds a secondary delivery record consulted before notifying.
func WithLedger(l Ledger) Option {
	return func(s *Scheduler) { s.ledger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(repo Repository, provider Provider, notifier *Notifier, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		provider: provider,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = &alert.Gate{Window: alert.CooldownWindow, Now: s.now}
	return s
}

// Start begins ticking every interval. It returns false if the scheduler
// was already started.
func (s *Scheduler) Start(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return false
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(interval, s.stop, s.done)
	s.logger.Info("alert scheduler started", "interval", interval.String())
	return true
}

// Stop cancels the ticker and waits for an in-flight pass to finish. The
// pass itself is never cancelled. Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	<-done
	s.inFlight.Lock()
	s.inFlight.Unlock() //nolint:staticcheck // wait for the in-flight pass
	s.logger.Info("alert scheduler stopped")
}

// Started reports whether the ticker is active.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// InFlight reports whether a pass is currently running.
func (s *Scheduler) InFlight() bool { return s.running.Load() }

// LastSummary returns the summary of the most recent pass, if any.
func (s *Scheduler) LastSummary() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

func (s *Scheduler) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicksSkipped.Inc()
		s.logger.Warn("previous pass still running, skipping tick")
		return
	}
	s.inFlight.Lock()
	go func() {
		defer s.finish()
		_, _ = s.pass(context.Background())
	}()
}

func (s *Scheduler) finish() {
	s.inFlight.Unlock()
	s.running.Store(false)
}

// RunOnce runs a single evaluation pass synchronously. Only a repository
// load failure is returned; every other failure is contained in the pass.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrPassInFlight
	}
	s.inFlight.Lock()
	defer s.finish()
	return s.pass(ctx)
}

func (s *Scheduler) pass(ctx context.Context) (sum Summary, err error) {
	started := time.Now()
	now := s.now()
	sum = Summary{RunID: uuid.NewString(), StartedAt: now}
	log := s.logger.With("run_id", sum.RunID)
	var t tally

	defer func() {
		if r := recover(); r != nil {
			log.Error("evaluation pass panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("evaluation pass panicked: %v", r)
		}
		sum.FailedGroups = int(t.failedGroups.Load())
		sum.Triggered = int(t.triggered.Load())
		sum.Suppressed = int(t.suppressed.Load())
		sum.Sent = int(t.sent.Load())
		sum.Failed = int(t.failed.Load())
		sum.DurationMS = time.Since(started).Milliseconds()

		status := "ok"
		if err != nil {
			status = "failed"
			sum.Error = err.Error()
		} else {
			metrics.SchedulerLastSuccess.SetToCurrentTime()
		}
		metrics.SchedulerPassesTotal.WithLabelValues(status).Inc()
		metrics.SchedulerPassDuration.Observe(time.Since(started).Seconds())
		s.mu.Lock()
		last := sum
		s.last = &last
		s.mu.Unlock()
	}()

	alerts, err := s.repo.FindEnabled(ctx)
	if err != nil {
		log.Error("load enabled alerts failed", "error", err)
		return sum, fmt.Errorf("load enabled alerts: %w", err)
	}
	metrics.AlertsEnabled.Set(float64(len(alerts)))

	groups := alert.Group(alerts)
	for _, a := range groups.Dropped {
		metrics.AlertsMalformedTotal.WithLabelValues(string(a.Kind)).Inc()
		log.Warn("skipping malformed alert", "alert_id", a.ID, "kind", a.Kind, "error", alert.Validate(a))
	}
	sum.Loaded = len(alerts)
	sum.Dropped = len(groups.Dropped)
	sum.Groups = groups.Len()

	var kinds errgroup.Group
	for _, kind := range alert.Kinds {
		byKey := groups.ByKind[kind]
		if len(byKey) == 0 {
			continue
		}
		kinds.Go(func() error {
			s.processKind(ctx, log, kind, byKey, now, &t)
			return nil
		})
	}
	_ = kinds.Wait()

	log.Info("evaluation pass complete",
		"loaded", sum.Loaded,
		"groups", sum.Groups,
		"failed_groups", t.failedGroups.Load(),
		"triggered", t.triggered.Load(),
		"sent", t.sent.Load(),
		"failed", t.failed.Load(),
		"duration", time.Since(started).String(),
	)
	return sum, nil
}

func (s *Scheduler) processKind(ctx context.Context, log *slog.Logger, kind alert.Kind, byKey map[string][]alert.Alert, now time.Time, t *tally) {
	var resources errgroup.Group
	for key, alerts := range byKey {
		resources.Go(func() error {
			s.processGroup(ctx, log, kind, key, alerts, now, t)
			return nil
		})
	}
	_ = resources.Wait()
}

func (s *Scheduler) processGroup(ctx context.Context, log *slog.Logger, kind alert.Kind, key string, alerts []alert.Alert, now time.Time, t *tally) {
	defer func() {
		if r := recover(); r != nil {
			t.failedGroups.Add(1)
			log.Error("resource group panicked", "kind", kind, "resource", key, "panic", r)
		}
	}()

	values, err := s.fetch(ctx, kind, key, alerts)
	if err != nil {
		t.failedGroups.Add(1)
		log.Warn("provider fetch failed, skipping group", "kind", kind, "resource", key, "alerts", len(alerts), "error", err)
		return
	}

	for _, a := range alerts {
		s.evaluate(ctx, log, a, values[lookupKey(a.Condition)], now, t)
	}
}

// fetch resolves every value a resource group needs before any alert in it
// is evaluated, so a group either evaluates fully or not at all.
func (s *Scheduler) fetch(ctx context.Context, kind alert.Kind, key string, alerts []alert.Alert) (map[string]float64, error) {
	start := time.Now()
	values := make(map[string]float64, 1)
	err := s.fetchValues(ctx, kind, key, alerts, values)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProviderFetchTotal.WithLabelValues(string(kind), status).Inc()
	metrics.ProviderFetchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return values, err
}

func (s *Scheduler) fetchValues(ctx context.Context, kind alert.Kind, key string, alerts []alert.Alert, values map[string]float64) error {
	switch kind {
	case alert.KindPrice:
		v, err := s.provider.Price(ctx, key)
		if err != nil {
			return err
		}
		values[""] = v
	case alert.KindTVL:
		v, err := s.provider.TVL(ctx, key)
		if err != nil {
			return err
		}
		values[""] = v
	case alert.KindBalance:
		if wb, ok := s.provider.(WalletBalances); ok {
			all, err := wb.Balances(ctx, key)
			if err != nil {
				return err
			}
			for _, a := range alerts {
				asset := lookupKey(a.Condition)
				values[asset] = all[asset]
			}
			return nil
		}
		for _, a := range alerts {
			asset := lookupKey(a.Condition)
			if _, ok := values[asset]; ok {
				continue
			}
			v, err := s.provider.Balance(ctx, key, asset)
			if err != nil {
				return err
			}
			values[asset] = v
		}
	case alert.KindActiveUsers:
		for _, a := range alerts {
			tf := lookupKey(a.Condition)
			if _, ok := values[tf]; ok {
				continue
			}
			v, err := s.provider.ActiveUsers(ctx, key, tf)
			if err != nil {
				return err
			}
			values[tf] = v
		}
	default:
		return fmt.Errorf("unsupported alert kind %q", kind)
	}
	return nil
}

// lookupKey distinguishes values fetched for the same resource key: the
// asset for balances and the timeframe for active users.
func lookupKey(c alert.Condition) string {
	switch v := c.(type) {
	case alert.BalanceCondition:
		return v.AssetMint
	case alert.ActiveUsersCondition:
		return v.Window()
	}
	return ""
}

func (s *Scheduler) evaluate(ctx context.Context, log *slog.Logger, a alert.Alert, value float64, now time.Time, t *tally) {
	kind := string(a.Kind)
	metrics.AlertsEvaluatedTotal.WithLabelValues(kind).Inc()
	if !alert.Evaluate(a.Condition, value) {
		return
	}
	t.triggered.Add(1)

	if !s.gate.EligibleAt(a, now) {
		t.suppressed.Add(1)
		metrics.AlertsSuppressedTotal.WithLabelValues(kind, "cooldown").Inc()
		log.Debug("alert in cooldown", "alert_id", a.ID, "last_triggered_at", a.LastTriggeredAt)
		return
	}
	if s.ledger != nil && s.ledger.Recent(ctx, a.ID) {
		t.suppressed.Add(1)
		metrics.AlertsSuppressedTotal.WithLabelValues(kind, "ledger").Inc()
		log.Info("alert already delivered this window", "alert_id", a.ID)
		return
	}

	if !s.notifier.Notify(ctx, alert.NewTriggerEvent(a, value, now), a.ChatID) {
		t.failed.Add(1)
		return
	}
	t.sent.Add(1)

	// The ledger entry expires when the cooldown measured from the pass
	// clock does, not a full window after the send.
	if s.ledger != nil {
		if ttl := s.gate.Window - s.now().Sub(now); ttl > 0 {
			s.ledger.Record(ctx, a.ID, ttl)
		}
	}
	if err := s.repo.MarkTriggered(ctx, a.ID, now); err != nil {
		log.Error("mark alert triggered failed", "alert_id", a.ID, "error", err)
	}
}
