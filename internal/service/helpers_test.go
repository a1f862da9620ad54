package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
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

var errStoreDown = errors.New("store unreachable")

// flakyAlertRepo fails Create and List while down is set
type flakyAlertRepo struct {
	*repository.MemoryAlertRepo
	mu   sync.Mutex
	down bool
}

func newFlakyAlertRepo() *flakyAlertRepo {
	return &flakyAlertRepo{MemoryAlertRepo: repository.NewMemoryAlertRepo()}
}

func (r *flakyAlertRepo) SetDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

func (r *flakyAlertRepo) isDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down
}

func (r *flakyAlertRepo) Create(ctx context.Context, alert domain.Alert) error {
	if r.isDown() {
		return errStoreDown
	}
	return r.MemoryAlertRepo.Create(ctx, alert)
}

func (r *flakyAlertRepo) List(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	if r.isDown() {
		return nil, errStoreDown
	}
	return r.MemoryAlertRepo.List(ctx, filter)
}

type fakeArchive struct {
	mu      sync.Mutex
	samples []domain.DeviceSample
	fail    bool
}

func (a *fakeArchive) Insert(_ context.Context, samples []domain.DeviceSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errStoreDown
	}
	a.samples = append(a.samples, samples...)
	return nil
}

func (a *fakeArchive) Query(_ context.Context, filter repository.TelemetryFilter) ([]domain.DeviceSample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.DeviceSample
	for _, s := range a.samples {
		if filter.DeviceID != "" && s.ID != filter.DeviceID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *fakeArchive) Type() string { return "fake" }

func (a *fakeArchive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

type fakeRawCapture struct {
	mu        sync.Mutex
	batches   []repository.RawBatch
	processed map[string]int
	errors    map[string]string
}

func newFakeRawCapture() *fakeRawCapture {
	return &fakeRawCapture{processed: map[string]int{}, errors: map[string]string{}}
}

func (r *fakeRawCapture) Insert(_ context.Context, batch repository.RawBatch) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return batch.SourceID + "-raw", nil
}

func (r *fakeRawCapture) MarkProcessed(_ context.Context, id string, dropped int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[id] = dropped
	return nil
}

func (r *fakeRawCapture) MarkError(_ context.Context, id string, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[id] = errorMsg
	return nil
}

func (r *fakeRawCapture) Cleanup(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func vendorARecord(deviceID string, status int, powerKW float64) map[string]interface{} {
	return map[string]interface{}{
		"deviceId":     deviceID,
		"deviceStatus": status,
		"activePower":  powerKW,
		"dailyYield":   120.5,
	}
}

// racingAlertRepo runs beforeAck once, just ahead of the stored acknowledgement
type racingAlertRepo struct {
	*repository.MemoryAlertRepo
	beforeAck func()
}

func (r *racingAlertRepo) Acknowledge(ctx context.Context, id, userID string, at time.Time) (domain.Alert, error) {
	if fn := r.beforeAck; fn != nil {
		r.beforeAck = nil
		fn()
	}
	return r.MemoryAlertRepo.Acknowledge(ctx, id, userID, at)
}
