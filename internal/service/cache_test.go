package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", 1, time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.cleanup()
	assert.Equal(t, 0, c.Size())
}

func TestCacheGetOrLoad(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", time.Minute, loader)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 1, calls)

	_, err := c.GetOrLoad(context.Background(), "bad", time.Minute, func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	_, ok := c.Get("bad")
	assert.False(t, ok, "failed loads are not cached")

	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
}

func TestBatchWriterFlushesOnSizeAndClose(t *testing.T) {
	archive := &fakeArchive{}
	bw := NewBatchWriter(archive, 2, time.Hour)

	bw.Add(domain.DeviceSample{ID: "INV-1"})
	assert.Equal(t, 1, bw.Size())
	assert.Equal(t, 0, archive.Count())

	bw.Add(domain.DeviceSample{ID: "INV-2"})
	assert.Equal(t, 2, archive.Count(), "full batch is written immediately")
	assert.Equal(t, 0, bw.Size())

	bw.Add(domain.DeviceSample{ID: "INV-3"})
	bw.Close()
	bw.Close()
	assert.Equal(t, 3, archive.Count())

	stats := bw.Stats()
	assert.Equal(t, uint64(2), stats["batches_written"])
	assert.Equal(t, uint64(3), stats["samples_written"])
}

func TestBatchWriterDropsFailedBatch(t *testing.T) {
	archive := &fakeArchive{fail: true}
	bw := NewBatchWriter(archive, 10, time.Hour)
	defer bw.Close()

	bw.Add(domain.DeviceSample{ID: "INV-1"})
	bw.Flush()
	assert.Equal(t, 0, bw.Size())
	assert.Equal(t, uint64(1), bw.Stats()["failed_batches"])
}
