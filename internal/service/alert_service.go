package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"solar_monitor/internal/cooldown"
	"solar_monitor/internal/detector"
	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/internal/repository"
	"solar_monitor/pkg/logger"
)

// Alert outcomes reported to metrics
const (
	AlertCreated    = "created"
	AlertSuppressed = "suppressed"
	AlertFailed     = "failed"
)

// Clock abstracts time for the service layer
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// AlertOption configures an AlertService
type AlertOption func(*AlertService)

func WithAlertClock(c Clock) AlertOption {
	return func(s *AlertService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRefreshInterval sets how often subscribers get a fresh list even
// when nothing changed through this service
func WithRefreshInterval(d time.Duration) AlertOption {
	return func(s *AlertService) {
		if d > 0 {
			s.refresh = d
		}
	}
}

type alertSubscriber struct {
	role   domain.Role
	sites  []string
	ch     chan []domain.Alert
	done   chan struct{}
	closed bool
}

// AlertService owns the alert lifecycle and the live alert streams
type AlertService struct {
	repo     repository.AlertRepository
	cooldown *cooldown.Manager
	clock    Clock
	refresh  time.Duration

	mu     sync.Mutex
	subs   map[uint64]*alertSubscriber
	nextID uint64

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewAlertService(repo repository.AlertRepository, cd *cooldown.Manager, opts ...AlertOption) *AlertService {
	if cd == nil {
		cd = cooldown.NewManager(nil)
	}
	s := &AlertService{
		repo:     repo,
		cooldown: cd,
		clock:    systemClock{},
		refresh:  30 * time.Second,
		subs:     make(map[uint64]*alertSubscriber),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise turns a finding into an alert unless the cooldown suppresses it.
// The second return value is AlertCreated, AlertSuppressed or AlertFailed.
// A failed insert is logged and the cooldown reservation released, so the
// next evaluation pass may try again.
func (s *AlertService) Raise(ctx context.Context, site detector.SiteContext, f domain.FaultFinding, ownerID string) (*domain.Alert, string) {
	if !s.cooldown.ShouldFire(ctx, f.SiteID, f.Type, f.DeviceKey) {
		metrics.RecordAlert(string(f.Type), AlertSuppressed)
		return nil, AlertSuppressed
	}

	deviceKey := f.DeviceKey
	if deviceKey == "" {
		deviceKey = domain.GeneralDeviceKey
	}
	alert := domain.Alert{
		ID:         uuid.NewString(),
		UserID:     ownerID,
		SiteID:     f.SiteID,
		SiteName:   site.SiteName,
		Type:       f.Type,
		Severity:   f.Severity,
		Title:      domain.AlertTitle(f.Type),
		Message:    f.Message,
		DeviceID:   f.DeviceID,
		DeviceName: f.DeviceName,
		DeviceKey:  deviceKey,
		Value:      f.MeasuredValue,
		Threshold:  f.Threshold,
		Timestamp:  s.clock.Now(),
	}

	if err := s.repo.Create(ctx, alert); err != nil {
		s.cooldown.Release(ctx, f.SiteID, f.Type, f.DeviceKey)
		metrics.RecordAlert(string(f.Type), AlertFailed)
		logger.Errorf("Failed to create %s alert for %s/%s: %v", f.Type, f.SiteID, deviceKey, err)
		return nil, AlertFailed
	}
	s.cooldown.RecordFired(ctx, f.SiteID, f.Type, f.DeviceKey)
	metrics.RecordAlert(string(f.Type), AlertCreated)
	logger.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"site_id":  alert.SiteID,
		"type":     alert.Type,
		"severity": alert.Severity,
		"device":   deviceKey,
	}).Info("Alert created")

	s.Broadcast(ctx)
	return &alert, AlertCreated
}

// Create stores an alert draft as is, bypassing cooldown
func (s *AlertService) Create(ctx context.Context, alert domain.Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.clock.Now()
	}
	if alert.Title == "" {
		alert.Title = domain.AlertTitle(alert.Type)
	}
	if err := s.repo.Create(ctx, alert); err != nil {
		return "", fmt.Errorf("create alert: %w", err)
	}
	s.Broadcast(ctx)
	return alert.ID, nil
}

// Acknowledge marks the alert as seen by userID. Resolved alerts return
// domain.ErrAlertResolved and are not modified.
func (s *AlertService) Acknowledge(ctx context.Context, id, userID string) (domain.Alert, error) {
	alert, err := s.repo.Acknowledge(ctx, id, userID, s.clock.Now())
	switch {
	case errors.Is(err, domain.ErrAlertNotFound), errors.Is(err, domain.ErrAlertResolved):
		return alert, err
	case err != nil:
		return domain.Alert{}, fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	metrics.RecordTransition("acknowledged")
	s.Broadcast(ctx)
	return alert, nil
}

// Resolve closes the alert. Resolving twice keeps the first resolution.
func (s *AlertService) Resolve(ctx context.Context, id string, auto bool) (domain.Alert, error) {
	alert, changed, err := s.repo.Resolve(ctx, id, auto, s.clock.Now())
	switch {
	case errors.Is(err, domain.ErrAlertNotFound):
		return domain.Alert{}, err
	case err != nil:
		return domain.Alert{}, fmt.Errorf("resolve alert %s: %w", id, err)
	case !changed:
		return alert, nil
	}
	if auto {
		metrics.RecordTransition("auto_resolved")
	} else {
		metrics.RecordTransition("resolved")
	}
	s.Broadcast(ctx)
	return alert, nil
}

func (s *AlertService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.RecordTransition("deleted")
	s.Broadcast(ctx)
	return nil
}

// DeleteAll removes every alert owned by userID
func (s *AlertService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	logger.Infof("Deleted %d alerts for %s", n, userID)
	s.Broadcast(ctx)
	return n, nil
}

// List returns the unresolved alerts the role may see. Store failures are
// logged and yield an empty list.
func (s *AlertService) List(ctx context.Context, role domain.Role, sites []string) []domain.Alert {
	return domain.VisibleAlerts(s.unresolved(ctx, ""), role, sites)
}

// AutoResolve closes open alerts of a site whose condition was evaluated
// in this pass and did not reappear. active holds the cooldown keys of the
// pass's findings.
func (s *AlertService) AutoResolve(ctx context.Context, siteID string, evaluated map[domain.AlertType]map[string]bool, active map[string]bool) int {
	resolved := 0
	for _, a := range s.unresolved(ctx, siteID) {
		keys, ok := evaluated[a.Type]
		if !ok || !keys[a.DeviceKey] {
			continue
		}
		if active[domain.CooldownKey(a.SiteID, a.Type, a.DeviceKey)] {
			continue
		}
		if _, err := s.Resolve(ctx, a.ID, true); err != nil {
			if !errors.Is(err, domain.ErrAlertNotFound) {
				logger.Warnf("Auto-resolve of %s failed: %v", a.ID, err)
			}
			continue
		}
		resolved++
	}
	if resolved > 0 {
		logger.Infof("Auto-resolved %d alerts on %s", resolved, siteID)
	}
	return resolved
}

func (s *AlertService) unresolved(ctx context.Context, siteID string) []domain.Alert {
	filter := domain.AlertFilter{UnresolvedOnly: true}
	if siteID != "" {
		filter.SiteIDs = []string{siteID}
	}
	alerts, err := s.repo.List(ctx, filter)
	if err != nil {
		logger.Warnf("Alert list unavailable (%s): %v", s.repo.Type(), err)
		return []domain.Alert{}
	}
	out := make([]domain.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Resolved() {
			out = append(out, a)
		}
	}
	return out
}

// Subscribe streams the visible unresolved alerts. The current list is
// sent immediately and again after every change. Slow readers only get
// the latest list. The stream ends when ctx is done or the returned
// function is called.
func (s *AlertService) Subscribe(ctx context.Context, role domain.Role, sites []string) (<-chan []domain.Alert, func()) {
	sub := &alertSubscriber{
		role:  role,
		sites: append([]string(nil), sites...),
		ch:    make(chan []domain.Alert, 1),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			if sub.closed {
				return
			}
			sub.closed = true
			close(sub.done)
			close(sub.ch)
		})
	}

	all := s.unresolved(ctx, "")
	s.mu.Lock()
	s.offer(sub, domain.VisibleAlerts(all, role, sites))
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return sub.ch, unsubscribe
}

// Broadcast pushes the current unresolved set to every subscriber
func (s *AlertService) Broadcast(ctx context.Context) {
	all := s.unresolved(ctx, "")
	metrics.SetUnacknowledged(len(domain.Unacknowledged(all)))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		s.offer(sub, domain.VisibleAlerts(all, sub.role, sub.sites))
	}
}

// offer replaces any unread list with alerts. Caller holds s.mu.
func (s *AlertService) offer(sub *alertSubscriber, alerts []domain.Alert) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- alerts:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- alerts:
	default:
	}
}

// SubscriberCount returns the number of open streams
func (s *AlertService) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Start runs the periodic refresh so streams pick up changes made by other
// writers of the store
func (s *AlertService) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.refreshLoop()
	})
}

func (s *AlertService) refreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.Broadcast(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Close stops the refresh loop and ends every stream. Safe to call twice.
func (s *AlertService) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[uint64]*alertSubscriber)
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.done)
				close(sub.ch)
			}
		}
		s.mu.Unlock()
	})
}
