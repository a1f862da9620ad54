package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/internal/repository"
	"solar_monitor/pkg/logger"
)

var (
	ErrDateResolutionRequired = errors.New("target date must be resolved to yesterday or today")
	ErrInvalidResolution      = errors.New("invalid date resolution")
	ErrJobRunning             = errors.New("aggregation already running")
	ErrNotEligible            = errors.New("aggregation not eligible to run")
)

// DateResolution answers the midnight-window question for manual saves
type DateResolution string

const (
	ResolveToday     DateResolution = "today"
	ResolveYesterday DateResolution = "yesterday"
)

// Job names used in logs and metrics
const (
	JobShort    = "short"
	JobFinalize = "finalize"
	JobManual   = "manual"
)

const (
	ambiguousUntilHour = 6
	shortStartHour     = 6
	shortEndHour       = 22
)

// SnapshotSource produces the fleet production snapshot from the samples
// received inside the window
type SnapshotSource interface {
	Collect(ctx context.Context, w SampleWindow) ([]domain.SiteProductionSnapshot, domain.ProductionSummary, error)
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

func WithAggregatorClock(c Clock) AggregatorOption {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithEligibility sets the predicate gating the short-interval job
func WithEligibility(fn func() bool) AggregatorOption {
	return func(a *Aggregator) {
		if fn != nil {
			a.isEligible = fn
		}
	}
}

func WithShortInterval(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithFinalizeAt sets the local time of the daily finalize job
func WithFinalizeAt(hour, minute int) AggregatorOption {
	return func(a *Aggregator) {
		a.finalizeHour, a.finalizeMinute = hour, minute
	}
}

// Aggregator merges fleet snapshots into the daily production record
type Aggregator struct {
	source     SnapshotSource
	repo       repository.ProductionRepository
	loc        *time.Location
	clock      Clock
	isEligible func() bool
	interval   time.Duration

	finalizeHour   int
	finalizeMinute int

	running atomic.Bool
	runs    int64
	skips   int64

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewAggregator(source SnapshotSource, repo repository.ProductionRepository, loc *time.Location, opts ...AggregatorOption) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		source:         source,
		repo:           repo,
		loc:            loc,
		clock:          systemClock{},
		isEligible:     func() bool { return true },
		interval:       10 * time.Minute,
		finalizeHour:   23,
		finalizeMinute: 30,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunShort performs one short-interval merge. It returns ErrNotEligible
// outside the daytime window or when the predicate says no, and
// ErrJobRunning when a previous run is still in flight.
func (a *Aggregator) RunShort(ctx context.Context) error {
	now := a.clock.Now()
	hour := now.In(a.loc).Hour()
	if hour < shortStartHour || hour >= shortEndHour || !a.isEligible() {
		atomic.AddInt64(&a.skips, 1)
		metrics.RecordAggregation(JobShort, metrics.ResultSkipped)
		return ErrNotEligible
	}
	if !a.running.CompareAndSwap(false, true) {
		atomic.AddInt64(&a.skips, 1)
		metrics.RecordAggregation(JobShort, metrics.ResultSkipped)
		logger.Warn("Short aggregation skipped: previous run still in progress")
		return ErrJobRunning
	}
	defer a.running.Store(false)

	// a source that missed two ticks no longer counts as live
	window := SampleWindow{Date: localDate(now, a.loc), Loc: a.loc, NotBefore: now.Add(-2 * a.interval)}
	_, err := a.merge(ctx, JobShort, window, domain.SaveAuto, true)
	return err
}

// Finalize writes the end-of-day record for the current fleet date
func (a *Aggregator) Finalize(ctx context.Context) (domain.DailyProductionRecord, error) {
	window := SampleWindow{Date: localDate(a.clock.Now(), a.loc), Loc: a.loc}
	return a.merge(ctx, JobFinalize, window, domain.SaveAuto, false)
}

// ManualSave writes the record for the operator-resolved date. Between
// midnight and 06:00 local an empty resolution returns
// ErrDateResolutionRequired and nothing is written.
func (a *Aggregator) ManualSave(ctx context.Context, resolution DateResolution) (domain.DailyProductionRecord, error) {
	date, err := TargetDate(a.clock.Now(), a.loc, resolution)
	if err != nil {
		return domain.DailyProductionRecord{}, err
	}
	return a.merge(ctx, JobManual, SampleWindow{Date: date, Loc: a.loc}, domain.SaveManual, false)
}

// NeedsResolution reports whether a manual save right now must be told
// which day it belongs to
func (a *Aggregator) NeedsResolution() bool {
	return a.clock.Now().In(a.loc).Hour() < ambiguousUntilHour
}

// TargetDate resolves the record date for a manual save at now
func TargetDate(now time.Time, loc *time.Location, resolution DateResolution) (string, error) {
	switch resolution {
	case "", ResolveToday, ResolveYesterday:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	local := now.In(loc)
	if local.Hour() >= ambiguousUntilHour {
		return local.Format(domain.DateLayout), nil
	}
	switch resolution {
	case ResolveYesterday:
		return local.AddDate(0, 0, -1).Format(domain.DateLayout), nil
	case ResolveToday:
		return local.Format(domain.DateLayout), nil
	default:
		return "", ErrDateResolutionRequired
	}
}

// merge writes the snapshot of window into the record for window.Date.
// Samples received on another fleet date never reach the record.
func (a *Aggregator) merge(ctx context.Context, job string, window SampleWindow, method domain.SaveMethod, realtime bool) (domain.DailyProductionRecord, error) {
	start := time.Now()
	date := window.Date
	sites, summary, err := a.source.Collect(ctx, window)
	if err != nil {
		metrics.RecordAggregation(job, metrics.ResultError)
		logger.Errorf("%s aggregation: collect failed: %v", job, err)
		return domain.DailyProductionRecord{}, fmt.Errorf("collect snapshot: %w", err)
	}

	record, err := a.repo.Merge(ctx, domain.ProductionPatch{
		Date:     date,
		Sites:    sites,
		Summary:  summary,
		Method:   method,
		Realtime: realtime,
		At:       a.clock.Now(),
	})
	if err != nil {
		metrics.RecordAggregation(job, metrics.ResultError)
		logger.Errorf("%s aggregation: merge into %s failed: %v", job, date, err)
		return domain.DailyProductionRecord{}, fmt.Errorf("merge daily record %s: %w", date, err)
	}

	atomic.AddInt64(&a.runs, 1)
	metrics.RecordAggregation(job, metrics.ResultSuccess)
	logger.Infof("%s aggregation saved %s: %d sites, %.2f kWh, update #%d in %v",
		job, date, len(sites), summary.TotalProductionKWh, record.Metadata.TotalUpdates, time.Since(start).Round(time.Millisecond))
	return record, nil
}

// Start launches the short-interval ticker and the daily finalize timer
func (a *Aggregator) Start() {
	a.startOnce.Do(func() {
		a.wg.Add(2)
		go a.shortLoop()
		go a.finalizeLoop()
		logger.Infof("Aggregator started: every %v, finalize at %02d:%02d %s",
			a.interval, a.finalizeHour, a.finalizeMinute, a.loc)
	})
}

func (a *Aggregator) shortLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// runs in its own goroutine so an overlapping tick hits the guard
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), a.interval)
				defer cancel()
				if err := a.RunShort(ctx); err != nil && !errors.Is(err, ErrNotEligible) {
					logger.Debugf("Short aggregation: %v", err)
				}
			}()
		case <-a.stop:
			return
		}
	}
}

func (a *Aggregator) finalizeLoop() {
	defer a.wg.Done()
	for {
		now := a.clock.Now()
		next := nextFinalizeAt(now, a.loc, a.finalizeHour, a.finalizeMinute)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := a.Finalize(ctx); err != nil {
				logger.Errorf("Daily finalize failed: %v", err)
			}
			cancel()
		case <-a.stop:
			timer.Stop()
			return
		}
	}
}

// nextFinalizeAt returns the first hour:minute in loc strictly after now
func nextFinalizeAt(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func localDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(domain.DateLayout)
}

// Stats returns run counters
func (a *Aggregator) Stats() (runs, skips int64) {
	return atomic.LoadInt64(&a.runs), atomic.LoadInt64(&a.skips)
}

// Stop ends both loops and waits for in-flight runs. Safe to call twice.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.wg.Wait()
		logger.Info("Aggregator stopped")
	})
}
