// Package schedule drives the recurring jobs: the monitoring batch, the
// daily summary, cleanup, and the health probe.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bestseller-tracker/pkg/tracker"
	"bestseller-tracker/slack"
)

const (
	// misfireGrace bounds how late a scheduled firing may start; later
	// firings are dropped rather than run against stale timing.
	misfireGrace = 5 * time.Minute

	// historyRetentionDays is the intended retention window reported by
	// the cleanup job.
	historyRetentionDays = 90
)

// Runner executes one monitoring batch.
type Runner interface {
	ProcessBatch(ctx context.Context, limit int, priorityFilter *int) (*tracker.BatchResult, error)
}

// Store is the persistence surface the summary jobs need.
type Store interface {
	RecentChanges(ctx context.Context, since time.Time) []tracker.Change
	HistoryCountSince(ctx context.Context, since time.Time) int
	ItemCount(ctx context.Context) int
}

// Notifier delivers operational notices and the daily digest.
type Notifier interface {
	SendSystemAlert(ctx context.Context, text, severity string) error
	SendDailySummary(ctx context.Context, summary *slack.Summary) error
}

// Probe reports one component's health.
type Probe func(ctx context.Context) bool

// Scheduler owns the cron runtime and the run timestamps.
type Scheduler struct {
	runner    Runner
	store     Store
	notifier  Notifier
	probes    map[string]Probe
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	lastRun *time.Time
	nextRun *time.Time
}

// New creates a stopped scheduler.
func New(runner Runner, store Store, notifier Notifier, probes map[string]Probe,
	batchSize int, interval time.Duration, logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		runner:    runner,
		store:     store,
		notifier:  notifier,
		probes:    probes,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}
}

// cronLogger adapts slog to the cron runtime's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Start registers the jobs and begins firing them. Calling Start on a
// running scheduler logs a warning and changes nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already running, ignoring start")
		return nil
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{fmt.Sprintf("@every %s", s.interval), "monitoring", func() { s.runMonitoring(ctx) }},
		{"0 8 * * *", "daily_summary", func() { s.runDailySummary(ctx) }},
		{"0 2 * * *", "cleanup", func() { s.runCleanup(ctx) }},
		{"@every 15m", "health_probe", func() { s.runHealthProbe(ctx) }},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, job.run); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("register %s job: %w", job.name, err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.lastRun = nil
	next := time.Now().Add(s.interval)
	s.nextRun = &next
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		"interval", s.interval.String(),
		"batch_size", s.batchSize)

	text := fmt.Sprintf("Monitoring started: checking every %d minutes", int(s.interval.Minutes()))
	if err := s.notifier.SendSystemAlert(ctx, text, "success"); err != nil {
		s.logger.Error("Failed to send startup alert", "error", err)
	}
	return nil
}

// Stop halts job firing and waits for any in-flight job to finish.
// Calling Stop on a stopped scheduler logs a warning and changes nothing.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("Scheduler not running, ignoring stop")
		return
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.nextRun = nil
	s.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("Gave up waiting for in-flight jobs", "error", ctx.Err())
	}

	s.logger.Info("Scheduler stopped")
	if err := s.notifier.SendSystemAlert(ctx, "Monitoring stopped", "warning"); err != nil {
		s.logger.Error("Failed to send shutdown alert", "error", err)
	}
}

// Status returns a point-in-time snapshot of the scheduler state.
func (s *Scheduler) Status() tracker.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tracker.SchedulerStatus{
		Running:         s.running,
		LastBatchRun:    s.lastRun,
		NextBatchRun:    s.nextRun,
		IntervalMinutes: int(s.interval.Minutes()),
	}
}

// TriggerManual runs one batch outside the schedule. It does not touch
// the last/next run timestamps. A limit of zero uses the configured
// batch size.
func (s *Scheduler) TriggerManual(ctx context.Context, priorityFilter *int, limit int) (*tracker.BatchResult, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	s.logger.Info("Manual batch triggered", "limit", limit)
	return s.runner.ProcessBatch(ctx, limit, priorityFilter)
}

// advance moves the run timestamps past a firing at now.
func (s *Scheduler) advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := now
	next := now.Add(s.interval)
	s.lastRun = &last
	s.nextRun = &next
}

// runMonitoring is one scheduled firing of the batch processor. The
// timestamps advance whether the batch succeeds, fails, or is dropped
// for starting too late.
func (s *Scheduler) runMonitoring(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	scheduled := s.nextRun
	s.mu.Unlock()

	if scheduled != nil {
		// Lateness is measured against the firing's own slot. When a
		// busy run overran the interval, the recorded slot belongs to
		// the tick that was coalesced away; roll it forward so the
		// next regular tick is not mistaken for a late one.
		slot := *scheduled
		for now.Sub(slot) >= s.interval {
			slot = slot.Add(s.interval)
		}
		if late := now.Sub(slot); late > misfireGrace {
			s.logger.Warn("Dropping monitoring run that started too late",
				"scheduled", slot.Format(time.RFC3339),
				"late_by", late.String())
			s.advance(now)
			return
		}
	}

	result, err := s.runner.ProcessBatch(ctx, s.batchSize, nil)
	s.advance(now)

	if err != nil {
		s.logger.Error("Scheduled batch failed", "error", err)
		text := "Scheduled batch failed: " + err.Error()
		if alertErr := s.notifier.SendSystemAlert(ctx, text, "error"); alertErr != nil {
			s.logger.Error("Failed to send batch failure alert", "error", alertErr)
		}
		return
	}

	s.logger.Info("Scheduled batch finished",
		"batch_id", result.BatchID,
		"items", result.ItemsProcessed,
		"changes", result.ChangesDetected)
}

// runDailySummary aggregates the last 24 hours and posts the digest.
func (s *Scheduler) runDailySummary(ctx context.Context) {
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	changes := s.store.RecentChanges(ctx, since)
	summary := slack.BuildSummary(now,
		s.store.ItemCount(ctx),
		s.store.HistoryCountSince(ctx, since),
		changes)

	if err := s.notifier.SendDailySummary(ctx, summary); err != nil {
		s.logger.Error("Failed to send daily summary", "error", err)
		return
	}
	s.logger.Info("Daily summary sent",
		"gained", summary.BadgesGained,
		"lost", summary.BadgesLost)
}

// runCleanup reports the retention cutoff. Deletion is handled by the
// storage layer's own lifecycle rules.
func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -historyRetentionDays)
	s.logger.Info("Cleanup cycle",
		"retention_days", historyRetentionDays,
		"cutoff", cutoff.Format(time.RFC3339),
		"history_records_kept", s.store.HistoryCountSince(ctx, cutoff))
}

// runHealthProbe checks every registered component and alerts when any
// is down.
func (s *Scheduler) runHealthProbe(ctx context.Context) {
	var down []string
	for name, probe := range s.probes {
		if !probe(ctx) {
			down = append(down, name)
		}
	}

	if len(down) == 0 {
		s.logger.Debug("Health probe passed", "components", len(s.probes))
		return
	}

	sort.Strings(down)
	s.logger.Error("Health probe failed", "components", down)
	text := "Unhealthy components: " + strings.Join(down, ", ")
	if err := s.notifier.SendSystemAlert(ctx, text, "error"); err != nil {
		s.logger.Error("Failed to send health alert", "error", err)
	}
}
