package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering and shutdown.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FlushTimeout bounds how long Close waits for queued events. Zero waits
	// until the queue is empty.
	FlushTimeout time.Duration
}

// Dispatcher hands events to a sink from one worker goroutine, in the order
// they were queued. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event

	// seq is only touched by the worker.
	seq     uint64
	dropped atomic.Uint64

	// ctx is handed to the sink and canceled when the flush deadline passes.
	ctx   context.Context
	abort context.CancelFunc

	closing atomic.Bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	ctx, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		ctx:     ctx,
		abort:   abort,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers what is left after Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver counts ev as dropped once the flush deadline has passed.
func (d *Dispatcher) deliver(ev Event) {
	if d.ctx.Err() != nil {
		d.dropped.Add(1)
		return
	}
	d.seq++
	ev.Seq = d.seq
	d.sink.Emit(d.ctx, ev)
}

// Emit queues ev. With DropIfFull a full buffer drops the event
// and counts it; otherwise Emit blocks until there is room, ctx ends, or
// Close runs.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and delivers the queued ones. With a
// FlushTimeout, Close returns once the deadline passes even if the sink is
// still blocked; the sink's context is canceled and undelivered events count
// as dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		defer d.abort()

		if d.cfg.FlushTimeout <= 0 {
			<-d.stopped
			return
		}
		timer := time.NewTimer(d.cfg.FlushTimeout)
		defer timer.Stop()
		select {
		case <-d.stopped:
		case <-timer.C:
		}
	})
}

// Dropped returns the number of events dropped under backpressure or at Close.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
