package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type staticSource struct {
	sites   []domain.SiteProductionSnapshot
	summary domain.ProductionSummary
	err     error
}

func (s staticSource) Collect(context.Context, SampleWindow) ([]domain.SiteProductionSnapshot, domain.ProductionSummary, error) {
	return s.sites, s.summary, s.err
}

// blockingSource holds Collect until release is closed
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSource) Collect(ctx context.Context, _ SampleWindow) ([]domain.SiteProductionSnapshot, domain.ProductionSummary, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, domain.ProductionSummary{}, ctx.Err()
	}
	return []domain.SiteProductionSnapshot{{SiteID: "S1"}}, domain.ProductionSummary{TotalSites: 1}, nil
}

// windowSource records the window of every Collect call
type windowSource struct {
	mu      sync.Mutex
	windows []SampleWindow
}

func (s *windowSource) Collect(_ context.Context, w SampleWindow) ([]domain.SiteProductionSnapshot, domain.ProductionSummary, error) {
	s.mu.Lock()
	s.windows = append(s.windows, w)
	s.mu.Unlock()
	return nil, domain.ProductionSummary{}, nil
}

func fixedSource() staticSource {
	return staticSource{
		sites:   []domain.SiteProductionSnapshot{{SiteID: "S1", TotalProductionKWh: 420}},
		summary: domain.ProductionSummary{TotalSites: 1, TotalProductionKWh: 420},
	}
}

func TestManualSaveRequiresResolutionAfterMidnight(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryProductionRepo()
	// 02:00 IST is still the previous day in UTC
	clock := newFakeClock(time.Date(2026, 3, 15, 2, 0, 0, 0, ist))
	agg := NewAggregator(fixedSource(), repo, ist, WithAggregatorClock(clock))
	defer agg.Stop()

	assert.True(t, agg.NeedsResolution())
	_, err := agg.ManualSave(ctx, "")
	require.ErrorIs(t, err, ErrDateResolutionRequired)
	records, err := repo.List(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Empty(t, records, "nothing is written without a resolution")

	rec, err := agg.ManualSave(ctx, ResolveYesterday)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", rec.Date)
	assert.Equal(t, domain.SaveManual, rec.Metadata.SavedMethod)
	assert.Nil(t, rec.Metadata.LastRealtimeUpdate)

	rec, err = agg.ManualSave(ctx, ResolveToday)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", rec.Date)
}

func TestTargetDate(t *testing.T) {
	cases := []struct {
		name       string
		now        time.Time
		resolution DateResolution
		want       string
		err        error
	}{
		{"daytime ignores resolution", time.Date(2026, 3, 15, 10, 0, 0, 0, ist), ResolveYesterday, "2026-03-15", nil},
		{"daytime empty", time.Date(2026, 3, 15, 6, 0, 0, 0, ist), "", "2026-03-15", nil},
		{"midnight window needs answer", time.Date(2026, 3, 15, 5, 59, 0, 0, ist), "", "", ErrDateResolutionRequired},
		{"midnight window yesterday", time.Date(2026, 3, 1, 0, 30, 0, 0, ist), ResolveYesterday, "2026-02-28", nil},
		{"bad resolution", time.Date(2026, 3, 15, 10, 0, 0, 0, ist), "tomorrow", "", ErrInvalidResolution},
		{"fleet zone not utc", time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC), ResolveToday, "2026-03-15", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TargetDate(tc.now, ist, tc.resolution)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShortRunReentrancyGuard(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryProductionRepo()
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(src, repo, time.UTC, WithAggregatorClock(clock))
	defer agg.Stop()

	firstDone := make(chan error, 1)
	go func() { firstDone <- agg.RunShort(ctx) }()
	<-src.started

	assert.ErrorIs(t, agg.RunShort(ctx), ErrJobRunning)

	close(src.release)
	require.NoError(t, <-firstDone)

	rec, err := repo.Get(ctx, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Metadata.TotalUpdates)
	require.NotNil(t, rec.Metadata.LastRealtimeUpdate)

	runs, skips := agg.Stats()
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, int64(1), skips)
}

func TestShortRunEligibility(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryProductionRepo()

	night := newFakeClock(time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC))
	agg := NewAggregator(fixedSource(), repo, time.UTC, WithAggregatorClock(night))
	assert.ErrorIs(t, agg.RunShort(ctx), ErrNotEligible)
	agg.Stop()

	day := newFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	hidden := NewAggregator(fixedSource(), repo, time.UTC, WithAggregatorClock(day), WithEligibility(func() bool { return false }))
	assert.ErrorIs(t, hidden.RunShort(ctx), ErrNotEligible)
	hidden.Stop()

	rec, err := repo.Get(ctx, "2026-06-01")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepeatedMergeKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryProductionRepo()
	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(fixedSource(), repo, time.UTC, WithAggregatorClock(clock))
	defer agg.Stop()

	require.NoError(t, agg.RunShort(ctx))
	clock.Advance(10 * time.Minute)
	require.NoError(t, agg.RunShort(ctx))
	clock.Advance(11 * time.Hour)
	final, err := agg.Finalize(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, final.Metadata.TotalUpdates)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), final.Metadata.CreatedAt)
	assert.Equal(t, domain.SaveAuto, final.Metadata.SavedMethod)
	assert.Equal(t, 420.0, final.Summary.TotalProductionKWh)
}

func TestMergeCollectFailure(t *testing.T) {
	repo := repository.NewMemoryProductionRepo()
	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(staticSource{err: errors.New("registry down")}, repo, time.UTC, WithAggregatorClock(clock))
	defer agg.Stop()

	_, err := agg.ManualSave(context.Background(), "")
	assert.Error(t, err)
}

func TestNextFinalizeAt(t *testing.T) {
	before := time.Date(2026, 6, 1, 12, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 6, 1, 23, 30, 0, 0, ist), nextFinalizeAt(before, ist, 23, 30))

	at := time.Date(2026, 6, 1, 23, 30, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 6, 2, 23, 30, 0, 0, ist), nextFinalizeAt(at, ist, 23, 30))

	monthEnd := time.Date(2026, 6, 30, 23, 45, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 7, 1, 23, 30, 0, 0, ist), nextFinalizeAt(monthEnd, ist, 23, 30))
}

func TestAggregatorStopIsIdempotent(t *testing.T) {
	agg := NewAggregator(fixedSource(), repository.NewMemoryProductionRepo(), time.UTC, WithShortInterval(time.Hour))
	agg.Start()
	assert.NotPanics(t, func() {
		agg.Stop()
		agg.Stop()
	})
}

func TestJobsCollectOnlyTheirOwnDate(t *testing.T) {
	ctx := context.Background()
	src := &windowSource{}
	clock := newFakeClock(time.Date(2026, 3, 15, 2, 0, 0, 0, ist))
	agg := NewAggregator(src, repository.NewMemoryProductionRepo(), ist, WithAggregatorClock(clock))
	defer agg.Stop()

	_, err := agg.ManualSave(ctx, ResolveYesterday)
	require.NoError(t, err)

	clock.Advance(4*time.Hour + 5*time.Minute)
	require.NoError(t, agg.RunShort(ctx))

	clock.Advance(17*time.Hour + 25*time.Minute)
	_, err = agg.Finalize(ctx)
	require.NoError(t, err)

	require.Len(t, src.windows, 3)
	assert.Equal(t, "2026-03-14", src.windows[0].Date)
	assert.True(t, src.windows[0].NotBefore.IsZero())

	assert.Equal(t, "2026-03-15", src.windows[1].Date)
	assert.Equal(t, time.Date(2026, 3, 15, 5, 45, 0, 0, ist), src.windows[1].NotBefore.In(ist))

	assert.Equal(t, "2026-03-15", src.windows[2].Date)
	assert.True(t, src.windows[2].NotBefore.IsZero())
}
