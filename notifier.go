package authclient

import (
	"sync"
	"time"
)

// LogoutReason says why the session was cleared.
type LogoutReason uint8

const (
	// LogoutRefreshFailed: a refresh failed and the client fell back to guest mode.
	LogoutRefreshFailed LogoutReason = iota + 1
	// LogoutExplicit: Logout was called.
	LogoutExplicit
)

func (r LogoutReason) String() string {
	switch r {
	case LogoutRefreshFailed:
		return "refresh_failed"
	case LogoutExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// LogoutEvent is delivered to OnLogout subscribers.
type LogoutEvent struct {
	Reason LogoutReason
	// Err is the refresh failure cause for LogoutRefreshFailed.
	Err error
	At  time.Time
}

type subscriber struct {
	id uint64
	fn func(LogoutEvent)
}

// notifier delivers logout events synchronously in subscription order.
type notifier struct {
	mu   sync.Mutex
	next uint64
	subs []subscriber
}

func (n *notifier) subscribe(fn func(LogoutEvent)) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	n.next++
	id := n.next
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (n *notifier) fire(ev LogoutEvent) {
	n.mu.Lock()
	subs := make([]subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
