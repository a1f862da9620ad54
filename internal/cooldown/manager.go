// Package cooldown suppresses repeat alerts for the same site, type and
// device within a per-type window.
package cooldown

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/pkg/logger"
)

// Clock abstracts time so tests can control it
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store persists last-fired timestamps across restarts
type Store interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
}

// WindowFunc returns the cooldown window for an alert type
type WindowFunc func(domain.AlertType) time.Duration

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the wall clock
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithWindows overrides the per-type windows
func WithWindows(fn WindowFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.windows = fn
		}
	}
}

type reservation struct {
	prev    time.Time
	hadPrev bool
}

// Manager decides whether a finding may produce an alert. ShouldFire both
// checks and reserves the key, so two concurrent callers for the same key
// cannot both get true.
type Manager struct {
	mu       sync.Mutex
	store    Store
	clock    Clock
	windows  WindowFunc
	last     map[string]time.Time
	reserved map[string]reservation
}

// NewManager creates a manager backed by store
func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	defaults := domain.DefaultSettings()
	m := &Manager{
		store:    store,
		clock:    systemClock{},
		windows:  defaults.CooldownWindow,
		last:     make(map[string]time.Time),
		reserved: make(map[string]reservation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetWindows swaps the window function, used when settings change
func (m *Manager) SetWindows(fn WindowFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.windows = fn
	m.mu.Unlock()
}

// Load restores persisted entries, dropping and deleting the expired ones
func (m *Manager) Load(ctx context.Context) error {
	entries, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()

	var expired []string
	m.mu.Lock()
	for key, at := range entries {
		if now.Sub(at) >= m.windows(typeOf(key)) {
			expired = append(expired, key)
			continue
		}
		if cur, ok := m.last[key]; !ok || at.After(cur) {
			m.last[key] = at
		}
	}
	m.mu.Unlock()

	for _, key := range expired {
		if err := m.store.Delete(ctx, key); err != nil {
			logger.Warnf("cooldown: failed to delete expired key %s: %v", key, err)
		}
	}
	logger.Infof("cooldown: restored %d entries, discarded %d expired", len(entries)-len(expired), len(expired))
	return nil
}

// ShouldFire returns true and reserves the key when no alert for it fired
// within the type's window.
func (m *Manager) ShouldFire(ctx context.Context, siteID string, alertType domain.AlertType, deviceKey string) bool {
	key := domain.CooldownKey(siteID, alertType, deviceKey)
	now := m.clock.Now()

	m.mu.Lock()
	prev, hadPrev := m.last[key]
	if hadPrev && now.Sub(prev) < m.windows(alertType) {
		m.mu.Unlock()
		return false
	}
	m.last[key] = now
	m.reserved[key] = reservation{prev: prev, hadPrev: hadPrev}
	m.mu.Unlock()

	m.persist(ctx, key, now)
	return true
}

// RecordFired stamps the key with the current time and confirms any
// outstanding reservation.
func (m *Manager) RecordFired(ctx context.Context, siteID string, alertType domain.AlertType, deviceKey string) {
	key := domain.CooldownKey(siteID, alertType, deviceKey)
	now := m.clock.Now()

	m.mu.Lock()
	m.last[key] = now
	delete(m.reserved, key)
	m.mu.Unlock()

	m.persist(ctx, key, now)
}

// Release undoes a reservation taken by ShouldFire, used when the alert
// could not be created.
func (m *Manager) Release(ctx context.Context, siteID string, alertType domain.AlertType, deviceKey string) {
	key := domain.CooldownKey(siteID, alertType, deviceKey)

	m.mu.Lock()
	r, ok := m.reserved[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.reserved, key)
	if r.hadPrev {
		m.last[key] = r.prev
	} else {
		delete(m.last, key)
	}
	m.mu.Unlock()

	var err error
	if r.hadPrev {
		err = m.store.Save(ctx, key, r.prev)
	} else {
		err = m.store.Delete(ctx, key)
	}
	if err != nil {
		logger.Warnf("cooldown: failed to release %s: %v", key, err)
	}
}

// Prune drops expired entries from memory and from the store. Reserved
// keys are left alone. It returns the number of keys removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	now := m.clock.Now()
	expired := make(map[string]bool)

	m.mu.Lock()
	for key, at := range m.last {
		if _, held := m.reserved[key]; held {
			continue
		}
		if now.Sub(at) >= m.windows(typeOf(key)) {
			delete(m.last, key)
			expired[key] = true
		}
	}
	m.mu.Unlock()

	stored, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune cooldowns: %w", err)
	}
	m.mu.Lock()
	for key, at := range stored {
		if _, live := m.last[key]; live {
			continue
		}
		if now.Sub(at) >= m.windows(typeOf(key)) {
			expired[key] = true
		}
	}
	m.mu.Unlock()

	removed := 0
	for key := range expired {
		if err := m.store.Delete(ctx, key); err != nil {
			logger.Warnf("cooldown: failed to delete expired key %s: %v", key, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Debugf("cooldown: pruned %d expired entries", removed)
	}
	return removed, nil
}

// Entries returns a copy of the current last-fired map
func (m *Manager) Entries() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}

func (m *Manager) persist(ctx context.Context, key string, at time.Time) {
	if err := m.store.Save(ctx, key, at); err != nil {
		logger.Warnf("cooldown: failed to persist %s: %v", key, err)
	}
}

// typeOf extracts the alert type from siteId:alertType:deviceKey
func typeOf(key string) domain.AlertType {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return domain.AlertType(parts[1])
}
