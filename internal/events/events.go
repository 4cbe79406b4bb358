package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type names an event.
type Type string

// Event types.
const (
	TypeLogin            Type = "login"
	TypeLoginFailure     Type = "login_failure"
	TypeLogout           Type = "logout"
	TypeRefreshSuccess   Type = "refresh_success"
	TypeRefreshFailure   Type = "refresh_failure"
	TypeGuestFallback    Type = "guest_fallback"
	TypeStaleTokenReplay Type = "stale_token_replay"
)

// Event is one client lifecycle event.
type Event struct {
	// Seq numbers events in delivery order, starting at 1.
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Type      Type              `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
