package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"clxtag/logging"
	"clxtag/plc"
)

// Fanout defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1000
	publishTimeout   = 5 * time.Second
)

// Stats counts messages handled by a Fanout.
type Stats struct {
	Published uint64 // delivered to a sink
	Failed    uint64 // sink returned an error
	Dropped   uint64 // queue full or fanout stopped
}

// Fanout is a plc.Observer that delivers events to every registered Sink.
type Fanout struct {
	mu      sync.RWMutex
	sinks   []Sink
	queue   chan Message
	workers int
	reads   bool
	running bool
	stopped bool
	wg      sync.WaitGroup

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

var _ plc.Observer = (*Fanout)(nil)

// NewFanout creates a fanout with the given pool size and queue depth.
// Non-positive values select the defaults. Reads are mirrored unless
// SetReads(false) is called.
func NewFanout(workers, queueSize int, sinks ...Sink) *Fanout {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Fanout{
		sinks:   sinks,
		queue:   make(chan Message, queueSize),
		workers: workers,
		reads:   true,
	}
}

// AddSink registers another sink.
func (f *Fanout) AddSink(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Sinks returns the registered sinks.
func (f *Fanout) Sinks() []Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Sink(nil), f.sinks...)
}

// SetReads selects whether read events are mirrored. Writes always are.
func (f *Fanout) SetReads(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = enabled
}

// Observe queues the event without blocking.
func (f *Fanout) Observe(e plc.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if e.Op == plc.OpRead && !f.reads {
		return
	}
	if f.stopped || len(f.sinks) == 0 {
		if f.stopped {
			f.dropped.Add(1)
		}
		return
	}

	select {
	case f.queue <- FromEvent(e):
	default:
		if f.dropped.Add(1)%100 == 1 {
			logging.DebugLog("mirror", "queue full, dropped %d messages so far", f.dropped.Load())
		}
	}
}

// Start launches the worker pool. Calling Start twice has no effect.
func (f *Fanout) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running || f.stopped {
		return
	}
	f.running = true
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	logging.DebugLog("mirror", "started %d workers for %d sinks", f.workers, len(f.sinks))
}

// Stop stops accepting events, delivers what is already queued and waits
// for the workers to exit.
func (f *Fanout) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	running := f.running
	close(f.queue)
	f.mu.Unlock()

	if running {
		f.wg.Wait()
	}
}

// Stats returns the delivery counters.
func (f *Fanout) Stats() Stats {
	return Stats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
	}
}

func (f *Fanout) worker() {
	defer f.wg.Done()
	for msg := range f.queue {
		f.deliver(msg)
	}
}

func (f *Fanout) deliver(msg Message) {
	for _, s := range f.Sinks() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.Publish(ctx, msg)
		cancel()
		if err != nil {
			f.failed.Add(1)
			logging.DebugError("mirror", s.Name()+" publish "+msg.PLC+"/"+msg.Tag, err)
			continue
		}
		f.published.Add(1)
	}
}
