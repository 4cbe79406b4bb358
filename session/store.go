package session

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreUnavailable is returned when a durable backend cannot be reached.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrInvalidSession is returned by Save when the session violates the
// access-present invariant (refresh token without access token).
var ErrInvalidSession = errors.New("invalid session: refresh token without access token")

// ErrCorruptSession is returned when persisted data cannot be decoded.
var ErrCorruptSession = errors.New("session data corrupt")

// Store persists one client's session.
//
// Implementations must make Save and Clear atomic: a concurrent Load observes
// either the previous or the next session, never a mix of both.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	cur Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the current session.
func (m *MemoryStore) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Clone(), nil
}

// Save replaces the current session.
func (m *MemoryStore) Save(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Valid() {
		return ErrInvalidSession
	}
	m.mu.Lock()
	m.cur = s.Clone()
	m.mu.Unlock()
	return nil
}

// Clear removes both tokens and the user payload.
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cur = Session{}
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
