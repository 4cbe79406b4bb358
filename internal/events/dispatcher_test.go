package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestNewDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// nil receivers are safe
	d.Emit(context.Background(), Event{Type: TypeLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAllOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Type: TypeRefreshSuccess})
	}
	d.Close()
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// first event is taken by the worker and blocks on the gate
	d.Emit(context.Background(), Event{Type: TypeLogout})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{Type: TypeLogout}) // fills the buffer
	d.Emit(context.Background(), Event{Type: TypeLogout}) // dropped
	d.Emit(context.Background(), Event{Type: TypeLogout}) // dropped

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{})
	if time.Since(start) > time.Second {
		t.Fatal("Emit did not return after context deadline")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Type: TypeGuestFallback, Path: "/orders/"})
	sink.Emit(context.Background(), Event{Type: TypeLogin, Success: true})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal(lines[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != TypeGuestFallback || ev.Path != "/orders/" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestChannelSinkBuffers(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{Type: TypeLogin})
	select {
	case ev := <-sink.Events():
		if ev.Type != TypeLogin {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestDispatcherCloseHonoursFlushTimeout(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, FlushTimeout: 20 * time.Millisecond}, sink)

	for i := 0; i < 4; i++ {
		d.Emit(context.Background(), Event{Type: TypeLogout})
	}
	waitQueued(t, d, 3)

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stuck sink past its flush timeout")
	}
	if d.ctx.Err() == nil {
		t.Fatal("expected the sink context to be canceled after the deadline")
	}

	// the worker is still inside the first Emit; the rest are dropped once it returns
	close(sink.gate)
	<-d.stopped
	if got := d.Dropped(); got != 3 {
		t.Fatalf("expected 3 undelivered events counted as dropped, got %d", got)
	}
}

func TestDispatcherCloseUnblocksContextAwareSink(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, FlushTimeout: 20 * time.Millisecond}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Type: TypeRefreshFailure})
	}
	// first event sits in the sink, the second blocks on it, the third waits
	waitQueued(t, d, 1)
	d.Close()
	<-d.stopped

	if got := len(sink.Events()); got != 1 {
		t.Fatalf("expected the channel sink to hold 1 event, got %d", got)
	}
	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected the queued event dropped, got %d", got)
	}
}

func TestDispatcherNumbersEventsInDeliveryOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	types := []Type{TypeRefreshFailure, TypeLogout, TypeGuestFallback}
	for _, typ := range types {
		d.Emit(context.Background(), Event{Type: typ})
	}
	d.Close()

	for i, typ := range types {
		ev := <-sink.Events()
		if ev.Type != typ || ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: got %s seq %d, want %s seq %d", i, ev.Type, ev.Seq, typ, i+1)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("event %d has no timestamp", i)
		}
	}
}

func waitQueued(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(d.queue) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d queued events, got %d", n, len(d.queue))
		}
		time.Sleep(time.Millisecond)
	}
}
