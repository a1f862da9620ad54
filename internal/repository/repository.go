package repository

import (
	"context"
	"time"

	"solar_monitor/internal/domain"
)

// AlertRepository persists alerts
type AlertRepository interface {
	Create(ctx context.Context, alert domain.Alert) error

	// Get returns domain.ErrAlertNotFound when the id is unknown
	Get(ctx context.Context, id string) (domain.Alert, error)

	// Acknowledge stamps acknowledgement only while the alert is unresolved.
	// A resolved alert yields domain.ErrAlertResolved and is left as stored.
	Acknowledge(ctx context.Context, id, userID string, at time.Time) (domain.Alert, error)

	// Resolve sets resolved_at only when it is unset. changed is false when
	// the alert was already resolved; the stored resolution is returned.
	Resolve(ctx context.Context, id string, auto bool, at time.Time) (alert domain.Alert, changed bool, err error)

	Delete(ctx context.Context, id string) error

	// DeleteAll removes every alert owned by userID and returns the count
	DeleteAll(ctx context.Context, userID string) (int64, error)

	// List returns alerts matching the filter, newest first
	List(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error)

	Type() string
}

// ProductionRepository persists one daily record per date
type ProductionRepository interface {
	// Get returns nil when no record exists for the date
	Get(ctx context.Context, date string) (*domain.DailyProductionRecord, error)

	// Merge applies the patch as a partial write and returns the stored record
	Merge(ctx context.Context, patch domain.ProductionPatch) (domain.DailyProductionRecord, error)

	// List returns records between two dates inclusive, oldest first
	List(ctx context.Context, from, to string) ([]domain.DailyProductionRecord, error)

	Type() string
}

// SiteRepository reads the site registry
type SiteRepository interface {
	List(ctx context.Context) ([]domain.Site, error)
}

// TelemetryArchive stores canonical samples for history queries
type TelemetryArchive interface {
	Insert(ctx context.Context, samples []domain.DeviceSample) error
	Query(ctx context.Context, filter TelemetryFilter) ([]domain.DeviceSample, error)
	Type() string
}

// TelemetryFilter narrows archive queries
type TelemetryFilter struct {
	SiteID    string
	DeviceID  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// RawCapture keeps a verbatim copy of ingest requests
type RawCapture interface {
	Insert(ctx context.Context, batch RawBatch) (string, error)
	MarkProcessed(ctx context.Context, id string, dropped int) error
	MarkError(ctx context.Context, id string, errorMsg string) error
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
