package notify

import (
	"context"
	"sync/atomic"

	"solar_monitor/pkg/logger"
)

// BadgeSink holds the unacknowledged count shown on the alert badge
type BadgeSink struct {
	count int64
}

func NewBadgeSink() *BadgeSink {
	return &BadgeSink{}
}

func (b *BadgeSink) Name() string { return "badge" }

func (b *BadgeSink) Notify(_ context.Context, ev Event) error {
	atomic.StoreInt64(&b.count, int64(len(ev.Unacknowledged)))
	return nil
}

// Count returns the last published unacknowledged count
func (b *BadgeSink) Count() int {
	return int(atomic.LoadInt64(&b.count))
}

// LogSink writes one toast line per new alert
type LogSink struct{}

func (LogSink) Name() string { return "toast" }

func (LogSink) Notify(_ context.Context, ev Event) error {
	for _, a := range ev.New {
		logger.WithFields(map[string]interface{}{
			"alert_id": a.ID,
			"site_id":  a.SiteID,
			"severity": a.Severity,
			"device":   a.DeviceKey,
		}).Warnf("%s at %s: %s", a.Title, a.SiteName, a.Message)
	}
	return nil
}
