package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"solar_monitor/internal/cooldown"
	"solar_monitor/internal/detector"
	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/internal/repository"
	"solar_monitor/internal/solar"
	"solar_monitor/internal/telemetry"
	"solar_monitor/pkg/logger"
)

var ErrVendorMismatch = errors.New("vendor type does not match the registered source")

// Deps are the stores and transports the engine runs on. Archive and Raw
// are optional.
type Deps struct {
	Alerts        repository.AlertRepository
	Production    repository.ProductionRepository
	Sites         repository.SiteRepository
	Archive       repository.TelemetryArchive
	Raw           repository.RawCapture
	CooldownStore cooldown.Store
	Hub           *telemetry.Hub
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	Location             *time.Location
	Settings             domain.Settings
	Clock                Clock
	RefreshInterval      time.Duration
	AggregationInterval  time.Duration
	ArchiveBatchSize     int
	ArchiveFlushInterval time.Duration
	RawRetention         time.Duration
	MaintenanceInterval  time.Duration
	IsEligibleToRun      func() bool
}

// IngestRequest is one batch of vendor records from a source
type IngestRequest struct {
	RequestID  string
	SourceID   string
	SiteID     string
	VendorType domain.VendorType
	Records    []map[string]interface{}
	SourceIP   string
}

// IngestResult reports what happened to an ingest batch
type IngestResult struct {
	RawID    string `json:"raw_id,omitempty"`
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
}

type sourceResult struct {
	findings []domain.FaultFinding
	strings  []detector.StringReport
}

// Engine owns every per-process map and timer of the monitoring core.
// Stop tears all of it down and may be called more than once.
type Engine struct {
	deps       Deps
	hub        *telemetry.Hub
	registry   *SiteRegistry
	latest     *LatestStore
	classifier *solar.Classifier
	cooldown   *cooldown.Manager
	alerts     *AlertService
	collector  *Collector
	aggregator *Aggregator
	batch      *BatchWriter
	clock      Clock

	rawRetention time.Duration
	maintenance  time.Duration

	settingsMu sync.RWMutex
	settings   domain.Settings

	resultsMu sync.RWMutex
	results   map[string]sourceResult

	subsMu sync.Mutex
	unsubs map[string]func()

	samplesReceived  int64
	recordsDropped   int64
	findingsProduced int64
	alertsCreated    int64
	alertsSuppressed int64
	alertsFailed     int64

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Alerts == nil || deps.Production == nil || deps.Sites == nil {
		return nil, errors.New("engine requires alert, production and site repositories")
	}
	if deps.Hub == nil {
		deps.Hub = telemetry.NewHub(nil)
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	settings := opts.Settings
	if settings.CooldownMinutes == nil {
		settings = domain.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	settings = settings.Clone()
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Hour
	}

	e := &Engine{
		deps:         deps,
		hub:          deps.Hub,
		registry:     NewSiteRegistry(deps.Sites, time.Minute),
		latest:       NewLatestStore(),
		classifier:   solar.NewClassifier(opts.Location),
		clock:        opts.Clock,
		rawRetention: opts.RawRetention,
		maintenance:  opts.MaintenanceInterval,
		settings:     settings,
		results:      make(map[string]sourceResult),
		unsubs:       make(map[string]func()),
		stop:         make(chan struct{}),
	}

	e.cooldown = cooldown.NewManager(deps.CooldownStore,
		cooldown.WithClock(opts.Clock),
		cooldown.WithWindows(settings.CooldownWindow))
	e.alerts = NewAlertService(deps.Alerts, e.cooldown,
		WithAlertClock(opts.Clock),
		WithRefreshInterval(opts.RefreshInterval))
	e.collector = NewCollector(e.registry, e.latest)
	e.aggregator = NewAggregator(e.collector, deps.Production, opts.Location,
		WithAggregatorClock(opts.Clock),
		WithEligibility(opts.IsEligibleToRun),
		WithShortInterval(opts.AggregationInterval))
	if deps.Archive != nil {
		e.batch = NewBatchWriter(deps.Archive, opts.ArchiveBatchSize, opts.ArchiveFlushInterval)
	}
	return e, nil
}

// Start restores cooldowns, subscribes to every registered source and
// starts the background jobs
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		if err := e.cooldown.Load(ctx); err != nil {
			logger.Warnf("Cooldown store unavailable, starting empty: %v", err)
		}
		if err := e.syncSubscriptions(ctx); err != nil {
			startErr = err
			return
		}
		e.alerts.Start()
		e.aggregator.Start()

		e.wg.Add(1)
		go e.maintenanceLoop()
		logger.Infof("Engine started (%s, auto-resolve=%v)", e.classifier.Location(), e.Settings().AutoResolve)
	})
	return startErr
}

// syncSubscriptions subscribes new sources and drops removed ones
func (e *Engine) syncSubscriptions(ctx context.Context) error {
	e.registry.Invalidate()
	sites, err := e.registry.Sites(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]domain.VendorType)
	for _, site := range sites {
		for _, src := range site.Sources {
			wanted[src.SourceID] = src.VendorType
		}
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for sourceID, unsub := range e.unsubs {
		if _, ok := wanted[sourceID]; !ok {
			unsub()
			delete(e.unsubs, sourceID)
		}
	}
	added := 0
	for sourceID, vendor := range wanted {
		if _, ok := e.unsubs[sourceID]; ok {
			continue
		}
		e.unsubs[sourceID] = e.hub.Subscribe(sourceID, vendor, e.onSnapshot)
		added++
	}
	if added > 0 {
		logger.Infof("Subscribed to %d new sources (%d total)", added, len(e.unsubs))
	}
	return nil
}

// Ingest captures a raw batch and publishes it to the source's subscribers
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	site, src, err := e.registry.Source(ctx, req.SiteID, req.SourceID)
	if err != nil {
		return IngestResult{}, err
	}
	vendor := src.VendorType
	if req.VendorType != "" && req.VendorType != vendor {
		return IngestResult{}, fmt.Errorf("%w: %s sends %s, got %s", ErrVendorMismatch, src.SourceID, vendor, req.VendorType)
	}
	if e.hub.SubscriberCount(src.SourceID) == 0 {
		if err := e.syncSubscriptions(ctx); err != nil {
			logger.Warnf("Subscription refresh failed: %v", err)
		}
	}

	result := IngestResult{}
	if e.deps.Raw != nil {
		rawID, err := e.deps.Raw.Insert(ctx, repository.RawBatch{
			RequestID:  req.RequestID,
			SourceID:   src.SourceID,
			SiteID:     site.ID,
			VendorType: string(vendor),
			Records:    req.Records,
			Timestamp:  e.clock.Now(),
			SourceIP:   req.SourceIP,
		})
		if err != nil {
			logger.Errorf("Failed to store raw batch from %s (request_id=%s): %v", src.SourceID, req.RequestID, err)
		} else {
			result.RawID = rawID
		}
	}

	records := make([]domain.RawRecord, len(req.Records))
	for i, payload := range req.Records {
		records[i] = domain.RawRecord{VendorType: vendor, Payload: payload}
	}

	snap, err := e.hub.Publish(ctx, src.SourceID, site.ID, vendor, records)
	if err != nil {
		if result.RawID != "" {
			if markErr := e.deps.Raw.MarkError(ctx, result.RawID, err.Error()); markErr != nil {
				logger.Errorf("Failed to mark raw batch error: %v", markErr)
			}
		}
		return result, err
	}
	if result.RawID != "" {
		if err := e.deps.Raw.MarkProcessed(ctx, result.RawID, snap.Dropped); err != nil {
			logger.Errorf("Failed to mark raw batch processed: %v", err)
		}
	}

	result.Accepted = len(snap.Samples)
	result.Dropped = snap.Dropped
	atomic.AddInt64(&e.samplesReceived, int64(result.Accepted))
	atomic.AddInt64(&e.recordsDropped, int64(result.Dropped))
	metrics.RecordIngest(string(vendor), result.Accepted, result.Dropped)
	return result, nil
}

// onSnapshot runs one evaluation pass for a source snapshot
func (e *Engine) onSnapshot(snap telemetry.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.latest.Put(snap, e.clock.Now())
	if e.batch != nil && len(snap.Samples) > 0 {
		e.batch.Add(snap.Samples...)
	}

	site, ok, err := e.registry.Site(ctx, snap.SiteID)
	if err != nil || !ok {
		logger.Warnf("Snapshot from %s for unknown site %s skipped (err=%v)", snap.SourceID, snap.SiteID, err)
		return
	}

	settings := e.Settings()
	siteCtx := detector.SiteContext{SiteID: site.ID, SiteName: site.Name, CapacityMWp: site.CapacityMWp}
	if devices, complete := e.latest.DeviceCount(site); complete {
		siteCtx.DeviceCount = devices
	}
	res := detector.Evaluate(detector.Input{
		Site:     siteCtx,
		Samples:  snap.Samples,
		Phase:    e.classifier.Classify(e.clock.Now()),
		Settings: settings,
	})

	e.resultsMu.Lock()
	e.results[snap.SourceID] = sourceResult{findings: res.Findings, strings: res.Strings}
	e.resultsMu.Unlock()
	atomic.AddInt64(&e.findingsProduced, int64(len(res.Findings)))

	active := make(map[string]bool, len(res.Findings))
	for _, f := range res.Findings {
		metrics.RecordFinding(string(f.Type), string(f.Severity))
		active[f.CooldownKey()] = true

		switch _, outcome := e.alerts.Raise(ctx, siteCtx, f, settings.AlertOwnerID); outcome {
		case AlertCreated:
			atomic.AddInt64(&e.alertsCreated, 1)
		case AlertSuppressed:
			atomic.AddInt64(&e.alertsSuppressed, 1)
		default:
			atomic.AddInt64(&e.alertsFailed, 1)
		}
	}

	if settings.AutoResolve {
		e.alerts.AutoResolve(ctx, site.ID, res.Evaluated, active)
	}
}

// Settings returns a copy of the current rule configuration
func (e *Engine) Settings() domain.Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.Clone()
}

// UpdateSettings validates and swaps the rule configuration
func (e *Engine) UpdateSettings(s domain.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s = s.Clone()
	if s.StringOverrides == nil {
		s.StringOverrides = map[string]map[string]bool{}
	}

	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()

	e.cooldown.SetWindows(s.CooldownWindow)
	logger.Info("Rule settings updated")
	return nil
}

// SetStringActive toggles the manual on/off override of one PV string
func (e *Engine) SetStringActive(deviceID, stringKey string, active bool) domain.Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()

	next := e.settings.Clone()
	if next.StringOverrides[deviceID] == nil {
		next.StringOverrides[deviceID] = map[string]bool{}
	}
	next.StringOverrides[deviceID][stringKey] = active
	e.settings = next
	logger.Infof("String %s on %s set active=%v", stringKey, deviceID, active)
	return next.Clone()
}

// FaultSummary groups the latest findings of every source per site
func (e *Engine) FaultSummary() []detector.SiteFaultSummary {
	e.resultsMu.RLock()
	var all []domain.FaultFinding
	for _, r := range e.results {
		all = append(all, r.findings...)
	}
	e.resultsMu.RUnlock()
	return detector.SummarizeSites(all)
}

// StringReports returns the latest PV string classification per device
func (e *Engine) StringReports() []detector.StringReport {
	e.resultsMu.RLock()
	defer e.resultsMu.RUnlock()
	out := make([]detector.StringReport, 0)
	for _, r := range e.results {
		out = append(out, r.strings...)
	}
	return out
}

// Phase returns the current solar phase in the fleet timezone
func (e *Engine) Phase() domain.SolarPhase {
	return e.classifier.Classify(e.clock.Now())
}

func (e *Engine) Alerts() *AlertService { return e.alerts }

func (e *Engine) Aggregator() *Aggregator { return e.aggregator }

// ProductionRecord returns the record for date, nil when none exists
func (e *Engine) ProductionRecord(ctx context.Context, date string) (*domain.DailyProductionRecord, error) {
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return e.deps.Production.Get(ctx, date)
}

// ProductionRange returns records between two dates inclusive
func (e *Engine) ProductionRange(ctx context.Context, from, to string) ([]domain.DailyProductionRecord, error) {
	return e.deps.Production.List(ctx, from, to)
}

// HasArchive reports whether telemetry history is available
func (e *Engine) HasArchive() bool {
	return e.deps.Archive != nil
}

// History queries archived samples
func (e *Engine) History(ctx context.Context, filter repository.TelemetryFilter) ([]domain.DeviceSample, error) {
	if e.deps.Archive == nil {
		return nil, errors.New("telemetry archive not configured")
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return e.deps.Archive.Query(ctx, filter)
}

// LatestSamples returns the most recent samples of a site
func (e *Engine) LatestSamples(ctx context.Context, siteID string) ([]domain.DeviceSample, error) {
	site, ok, err := e.registry.Site(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: site %s unknown", ErrUnknownSource, siteID)
	}
	return e.latest.SiteSamples(site), nil
}

// Stats returns pipeline counters
func (e *Engine) Stats() domain.Stats {
	runs, skips := e.aggregator.Stats()
	return domain.Stats{
		SamplesReceived:  atomic.LoadInt64(&e.samplesReceived),
		RecordsDropped:   atomic.LoadInt64(&e.recordsDropped),
		FindingsProduced: atomic.LoadInt64(&e.findingsProduced),
		AlertsCreated:    atomic.LoadInt64(&e.alertsCreated),
		AlertsSuppressed: atomic.LoadInt64(&e.alertsSuppressed),
		AlertsFailed:     atomic.LoadInt64(&e.alertsFailed),
		AggregationRuns:  runs,
		AggregationSkips: skips,
	}
}

// maintenanceLoop purges old raw batches and expired cooldowns and picks up
// registry changes
func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.maintenance)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runMaintenance()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if e.deps.Raw != nil && e.rawRetention > 0 {
		cutoff := e.clock.Now().Add(-e.rawRetention)
		deleted, err := e.deps.Raw.Cleanup(ctx, cutoff)
		if err != nil {
			logger.Errorf("Raw telemetry cleanup failed: %v", err)
		} else if deleted > 0 {
			logger.Infof("Cleaned up %d raw batches older than %s", deleted, cutoff.Format(time.RFC3339))
		}
	}
	if _, err := e.cooldown.Prune(ctx); err != nil {
		logger.Warnf("Cooldown prune failed: %v", err)
	}
	if err := e.syncSubscriptions(ctx); err != nil {
		logger.Warnf("Subscription refresh failed: %v", err)
	}
}

// Stop clears every timer and subscription. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()

		e.subsMu.Lock()
		for sourceID, unsub := range e.unsubs {
			unsub()
			delete(e.unsubs, sourceID)
		}
		e.subsMu.Unlock()

		e.aggregator.Stop()
		e.alerts.Close()
		if e.batch != nil {
			e.batch.Close()
		}
		e.registry.Close()
		logger.Info("Engine stopped")
	})
}

// NewRequestID returns id when set, a fresh uuid otherwise
func NewRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
