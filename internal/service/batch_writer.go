package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/internal/repository"
	"solar_monitor/pkg/logger"
)

// BatchWriter buffers samples and writes them to the archive in batches
type BatchWriter struct {
	archive       repository.TelemetryArchive
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []domain.DeviceSample
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	batchesWritten uint64
	samplesWritten uint64
	failedBatches  uint64
}

// NewBatchWriter creates a writer and starts its flush loop
func NewBatchWriter(archive repository.TelemetryArchive, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize < 1 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 200 * time.Millisecond
	}
	bw := &BatchWriter{
		archive:       archive,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]domain.DeviceSample, 0, batchSize),
		stop:          make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.autoFlush()

	logger.Info(fmt.Sprintf("BatchWriter started: %d size, %v interval (%s)", batchSize, flushInterval, archive.Type()))
	return bw
}

// Add buffers samples and flushes once the batch is full
func (bw *BatchWriter) Add(samples ...domain.DeviceSample) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, samples...)
	shouldFlush := len(bw.buffer) >= bw.batchSize
	bw.mu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

// Flush writes all buffered samples. Failed batches are logged and dropped.
func (bw *BatchWriter) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}

	toWrite := make([]domain.DeviceSample, len(bw.buffer))
	copy(toWrite, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := bw.archive.Insert(ctx, toWrite); err != nil {
		atomic.AddUint64(&bw.failedBatches, 1)
		metrics.RecordArchiveWrite(false)
		logger.Error(fmt.Sprintf("Archive batch write failed: %d samples in %v: %v", len(toWrite), time.Since(start), err))
		return
	}

	atomic.AddUint64(&bw.batchesWritten, 1)
	atomic.AddUint64(&bw.samplesWritten, uint64(len(toWrite)))
	metrics.RecordArchiveWrite(true)
	logger.Debug(fmt.Sprintf("Archived %d samples in %v", len(toWrite), time.Since(start).Round(time.Millisecond)))
}

// Size returns current buffer size
func (bw *BatchWriter) Size() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

func (bw *BatchWriter) autoFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.Flush()
		case <-bw.stop:
			bw.Flush() // final flush before shutdown
			return
		}
	}
}

// Stats returns writer statistics
func (bw *BatchWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"batches_written": atomic.LoadUint64(&bw.batchesWritten),
		"samples_written": atomic.LoadUint64(&bw.samplesWritten),
		"failed_batches":  atomic.LoadUint64(&bw.failedBatches),
		"buffer_size":     bw.Size(),
	}
}

// Close stops the flush loop after a final flush. Safe to call twice.
func (bw *BatchWriter) Close() {
	bw.once.Do(func() {
		close(bw.stop)
		bw.wg.Wait()
		logger.Info(fmt.Sprintf("BatchWriter closed. Total: %d batches, %d samples",
			atomic.LoadUint64(&bw.batchesWritten),
			atomic.LoadUint64(&bw.samplesWritten)))
	})
}
