// Package events carries client lifecycle events (login, logout, refresh
// outcomes, guest fallback) to a caller-supplied Sink off the request path.
//
// The root package re-exports Event and Sink; the Dispatcher stays internal.
package events
