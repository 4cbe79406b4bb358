package authclient

import (
	"io"

	"github.com/MrEthical07/authclient/internal/events"
)

// Event is a client lifecycle event delivered to an EventSink.
type Event = events.Event

// EventType names an Event.
type EventType = events.Type

// EventSink receives events emitted by the client.
type EventSink = events.Sink

// Event types emitted by the client. EventRefreshFailure, EventLogout and
// EventGuestFallback are emitted in that order when a refresh fails.
const (
	EventLogin            = events.TypeLogin
	EventLoginFailure     = events.TypeLoginFailure
	EventLogout           = events.TypeLogout
	EventRefreshSuccess   = events.TypeRefreshSuccess
	EventRefreshFailure   = events.TypeRefreshFailure
	EventGuestFallback    = events.TypeGuestFallback
	EventStaleTokenReplay = events.TypeStaleTokenReplay
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *events.ChannelSink {
	return events.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *events.JSONWriterSink {
	return events.NewJSONWriterSink(w)
}
