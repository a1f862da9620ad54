package service

import (
	"context"
	"testing"
	"time"

	"solar_monitor/internal/cooldown"
	"solar_monitor/internal/detector"
	"solar_monitor/internal/domain"
	"solar_monitor/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlertService(repo repository.AlertRepository) (*AlertService, *fakeClock) {
	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	cd := cooldown.NewManager(nil, cooldown.WithClock(clock))
	return NewAlertService(repo, cd, WithAlertClock(clock)), clock
}

func recv(t *testing.T, ch <-chan []domain.Alert) []domain.Alert {
	t.Helper()
	select {
	case alerts, ok := <-ch:
		require.True(t, ok, "stream closed")
		return alerts
	case <-time.After(2 * time.Second):
		t.Fatal("no stream emission")
		return nil
	}
}

func inverterFinding(siteID, deviceID string) domain.FaultFinding {
	return domain.FaultFinding{
		SiteID:    siteID,
		Type:      domain.AlertInverter,
		Severity:  domain.SeverityCritical,
		DeviceID:  deviceID,
		DeviceKey: deviceID,
		Message:   deviceID + " reports status \"fault\"",
	}
}

func TestAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()

	id, err := svc.Create(ctx, domain.Alert{SiteID: "S1", Type: domain.AlertTemperature, Severity: domain.SeverityWarning})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	acked, err := svc.Acknowledge(ctx, id, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStateAcknowledged, acked.State())
	assert.Equal(t, "op-1", acked.AcknowledgedBy)

	clock.Advance(time.Minute)
	first, err := svc.Resolve(ctx, id, false)
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)

	clock.Advance(time.Minute)
	second, err := svc.Resolve(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, *first.ResolvedAt, *second.ResolvedAt, "resolve is idempotent")
	assert.False(t, second.AutoResolved)

	_, err = svc.Acknowledge(ctx, id, "op-2")
	assert.ErrorIs(t, err, domain.ErrAlertResolved)
	assert.Empty(t, svc.List(ctx, domain.RoleAdmin, nil))
}

func TestAcknowledgeRacingResolveKeepsAlertResolved(t *testing.T) {
	ctx := context.Background()
	repo := &racingAlertRepo{MemoryAlertRepo: repository.NewMemoryAlertRepo()}
	svc, _ := newTestAlertService(repo)
	defer svc.Close()

	id, err := svc.Create(ctx, domain.Alert{SiteID: "S1", Type: domain.AlertInverter})
	require.NoError(t, err)

	repo.beforeAck = func() {
		_, err := svc.Resolve(ctx, id, true)
		require.NoError(t, err)
	}
	_, err = svc.Acknowledge(ctx, id, "u1")
	assert.ErrorIs(t, err, domain.ErrAlertResolved)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt, "acknowledge must not reopen the alert")
	assert.True(t, stored.AutoResolved)
	assert.False(t, stored.Acknowledged)
	assert.Empty(t, svc.List(ctx, domain.RoleAdmin, nil))
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	svc, _ := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()

	_, err := svc.Acknowledge(context.Background(), "missing", "op")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestRaiseAppliesCooldown(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()
	site := detector.SiteContext{SiteID: "S1", SiteName: "Plant One"}

	alert, outcome := svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	require.Equal(t, AlertCreated, outcome)
	assert.Equal(t, "Plant One", alert.SiteName)
	assert.Equal(t, "Inverter fault", alert.Title)

	clock.Advance(time.Minute)
	_, outcome = svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	assert.Equal(t, AlertSuppressed, outcome)

	clock.Advance(5 * time.Minute)
	_, outcome = svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	assert.Equal(t, AlertCreated, outcome)
	assert.Len(t, svc.List(ctx, domain.RoleAdmin, nil), 2)
}

func TestRaiseFailureReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyAlertRepo()
	svc, _ := newTestAlertService(repo)
	defer svc.Close()
	site := detector.SiteContext{SiteID: "S1"}

	repo.SetDown(true)
	_, outcome := svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	assert.Equal(t, AlertFailed, outcome)

	repo.SetDown(false)
	_, outcome = svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	assert.Equal(t, AlertCreated, outcome, "a failed insert must not hold the cooldown")
}

func TestListDegradesToEmpty(t *testing.T) {
	repo := newFlakyAlertRepo()
	svc, _ := newTestAlertService(repo)
	defer svc.Close()

	repo.SetDown(true)
	alerts := svc.List(context.Background(), domain.RoleAdmin, nil)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestSubscribeFiltersBySiteVisibility(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()

	_, err := svc.Create(ctx, domain.Alert{SiteID: "S1", Type: domain.AlertInverter})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.Alert{SiteID: "S2", Type: domain.AlertInverter})
	require.NoError(t, err)

	adminCh, stopAdmin := svc.Subscribe(ctx, domain.RoleAdmin, nil)
	defer stopAdmin()
	viewerCh, stopViewer := svc.Subscribe(ctx, domain.RoleViewer, []string{"S1"})
	defer stopViewer()
	guestCh, stopGuest := svc.Subscribe(ctx, domain.Role("guest"), []string{"S1"})
	defer stopGuest()

	assert.Len(t, recv(t, adminCh), 2)
	viewer := recv(t, viewerCh)
	require.Len(t, viewer, 1)
	assert.Equal(t, "S1", viewer[0].SiteID)
	assert.Empty(t, recv(t, guestCh))

	_, outcome := svc.Raise(ctx, detector.SiteContext{SiteID: "S1"}, inverterFinding("S1", "INV-9"), "system")
	require.Equal(t, AlertCreated, outcome)
	assert.Len(t, recv(t, adminCh), 3)
	assert.Len(t, recv(t, viewerCh), 2)
}

func TestSubscribeKeepsOnlyLatest(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()

	ch, stop := svc.Subscribe(ctx, domain.RoleOperator, nil)
	defer stop()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, domain.Alert{SiteID: "S1", Type: domain.AlertInverter})
		require.NoError(t, err)
	}
	assert.Len(t, recv(t, ch), 3)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, _ := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()

	ch, stop := svc.Subscribe(ctx, domain.RoleAdmin, nil)
	recv(t, ch)
	assert.Equal(t, 1, svc.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return svc.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		stop()
		stop()
		svc.Close()
		svc.Close()
	})
}

func TestAutoResolveClosesClearedConditions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAlertService(repository.NewMemoryAlertRepo())
	defer svc.Close()
	site := detector.SiteContext{SiteID: "S1"}

	_, outcome := svc.Raise(ctx, site, inverterFinding("S1", "INV-1"), "system")
	require.Equal(t, AlertCreated, outcome)
	_, outcome = svc.Raise(ctx, site, inverterFinding("S1", "INV-2"), "system")
	require.Equal(t, AlertCreated, outcome)

	evaluated := map[domain.AlertType]map[string]bool{
		domain.AlertInverter: {"INV-1": true, "INV-2": true},
	}
	active := map[string]bool{domain.CooldownKey("S1", domain.AlertInverter, "INV-2"): true}

	assert.Equal(t, 1, svc.AutoResolve(ctx, "S1", evaluated, active))
	open := svc.List(ctx, domain.RoleAdmin, nil)
	require.Len(t, open, 1)
	assert.Equal(t, "INV-2", open[0].DeviceID)

	// nothing evaluated, nothing resolved
	assert.Equal(t, 0, svc.AutoResolve(ctx, "S1", map[domain.AlertType]map[string]bool{}, nil))
}
