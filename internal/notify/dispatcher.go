// Package notify fans alert stream emissions out to best-effort sinks.
// Nothing here can affect alert persistence or counts.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/pkg/logger"
)

// Event is one stream emission prepared for the sinks
type Event struct {
	Unresolved     []domain.Alert `json:"unresolved"`
	Unacknowledged []domain.Alert `json:"unacknowledged"`
	// New holds alerts absent from the previous emission
	New []domain.Alert `json:"new"`
	At  time.Time      `json:"at"`
}

// HasNewCritical reports whether a critical alert appeared in this emission
func (e Event) HasNewCritical() bool {
	for _, a := range e.New {
		if a.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// Sink receives events. Errors and panics are contained by the dispatcher.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher turns alert lists into events and delivers them through a
// bounded queue. A full queue drops the event.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	now     func() time.Time

	seen     map[string]bool
	baseline bool

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize < 1 {
		queueSize = 16
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		timeout: 5 * time.Second,
		now:     time.Now,
		seen:    make(map[string]bool),
		stop:    make(chan struct{}),
	}
}

// Start consumes stream until it closes or Stop is called
func (d *Dispatcher) Start(stream <-chan []domain.Alert) {
	d.startOnce.Do(func() {
		d.wg.Add(2)
		go d.consume(stream)
		go d.deliverLoop()
		logger.Infof("Notification dispatcher started with %d sinks", len(d.sinks))
	})
}

func (d *Dispatcher) consume(stream <-chan []domain.Alert) {
	defer d.wg.Done()
	for {
		select {
		case alerts, ok := <-stream:
			if !ok {
				return
			}
			d.Enqueue(d.prepare(alerts))
		case <-d.stop:
			return
		}
	}
}

// prepare diffs the list against the previous one. The first list only
// sets the baseline so a restart does not replay every open alert.
func (d *Dispatcher) prepare(alerts []domain.Alert) Event {
	ev := Event{
		Unresolved:     alerts,
		Unacknowledged: domain.Unacknowledged(alerts),
		At:             d.now(),
	}
	next := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		next[a.ID] = true
		if d.baseline && !d.seen[a.ID] {
			ev.New = append(ev.New, a)
		}
	}
	d.seen = next
	d.baseline = true
	return ev
}

// Enqueue offers an event without blocking
func (d *Dispatcher) Enqueue(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		metrics.RecordNotificationDropped()
		logger.Warn("Notification queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, sink := range d.sinks {
		err := d.notifySink(sink, ev)
		metrics.RecordNotification(sink.Name(), err == nil)
		if err != nil {
			logger.Warnf("Notification sink %s failed: %v", sink.Name(), err)
		}
	}
}

func (d *Dispatcher) notifySink(sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return sink.Notify(ctx, ev)
}

// Stop ends both loops. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})
}
