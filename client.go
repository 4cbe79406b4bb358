package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authclient/internal/events"
	"github.com/MrEthical07/authclient/session"
	"github.com/MrEthical07/authclient/token"
)

// Client sends authenticated JSON requests and recovers from access-token
// expiry with a single shared refresh.
//
// Client is safe for concurrent use. Build one with [Builder].
type Client struct {
	config  Config
	store   session.Store
	exec    *executor
	ref     *refresher
	metrics *Metrics
	events  *events.Dispatcher
	logouts *notifier
	logger  *slog.Logger
	now     func() time.Time
	closed  atomic.Bool
}

type loginResponse struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    json.RawMessage `json:"user"`
}

// Do sends req and returns its response, or exactly one *APIError.
//
// A 401 on a non-auth path is absorbed: the request is replayed once after a
// refresh, with the new access token or as a guest when the refresh failed.
// A 401 on that replay is returned as a normal HTTP error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cl, err := c.exec.prepare(req)
	if err != nil {
		return nil, err
	}

	if res, ok, err := c.proactive(ctx, cl); err != nil {
		return nil, ClassifyTransportError(err)
	} else if ok {
		return c.replay(ctx, cl, res)
	}

	resp, apiErr, sent := c.exec.send(ctx, cl, plan{mode: authStored})
	if apiErr == nil {
		return resp, nil
	}
	if cl.auth || !apiErr.Unauthorized() {
		return nil, apiErr
	}

	res, err := c.ref.recover(ctx, sent)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	if res.surface {
		return nil, apiErr
	}
	return c.replay(ctx, cl, res)
}

// proactive joins or starts a refresh before the first send when the stored
// access token is a JWT expiring within Refresh.ProactiveWindow.
func (c *Client) proactive(ctx context.Context, cl *call) (resolution, bool, error) {
	window := c.config.Refresh.ProactiveWindow
	if window <= 0 || cl.auth {
		return resolution{}, false, nil
	}
	sess, err := c.store.Load(ctx)
	if err != nil || sess.RefreshToken == "" || !token.ExpiresWithin(sess.AccessToken, window, c.now()) {
		return resolution{}, false, nil
	}

	c.metrics.Inc(MetricProactiveRefresh)
	c.logger.Debug("access token near expiry, refreshing before send", "path", cl.path)
	res, err := c.ref.recover(ctx, sess.AccessToken)
	if err != nil {
		return resolution{}, false, err
	}
	if res.surface {
		return resolution{}, false, nil
	}
	return res, true, nil
}

func (c *Client) replay(ctx context.Context, cl *call, res resolution) (*Response, error) {
	if res.t != nil {
		if handoff := c.config.Refresh.ReplayHandoff; handoff > 0 {
			timer := time.AfterFunc(handoff, res.t.pass)
			defer timer.Stop()
		} else {
			res.t.pass()
		}
	}
	defer res.t.pass()

	switch res.plan.mode {
	case authGuest:
		c.metrics.Inc(MetricReplayGuest)
	default:
		c.metrics.Inc(MetricReplayAuthenticated)
	}
	if res.cause != nil && res.plan.mode == authGuest {
		c.logger.Debug("replaying request as guest", "path", cl.path, "request_id", cl.requestID, "cause", res.cause)
	} else {
		c.logger.Debug("replaying request", "path", cl.path, "request_id", cl.requestID)
	}

	resp, apiErr, _ := c.exec.send(ctx, cl, res.plan)
	if apiErr != nil {
		return nil, apiErr
	}
	return resp, nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post sends a POST request with body JSON-encoded.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put sends a PUT request with body JSON-encoded.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch sends a PATCH request with body JSON-encoded.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Login posts credentials to the login endpoint and stores the returned
// session. The response must carry "access"; "refresh" and "user" are optional.
func (c *Client) Login(ctx context.Context, credentials any) (*Response, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClientNotReady
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: c.config.Auth.LoginPath, Body: credentials})
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.ref.emit(ctx, events.TypeLoginFailure, false, err)
		return nil, err
	}

	var lr loginResponse
	if err := resp.Decode(&lr); err != nil || lr.Access == "" {
		c.metrics.Inc(MetricLoginFailure)
		c.ref.emit(ctx, events.TypeLoginFailure, false, ErrLoginResponseInvalid)
		return nil, ErrLoginResponseInvalid
	}
	if len(lr.User) > 0 && string(lr.User) == "null" {
		lr.User = nil
	}

	next := session.Session{AccessToken: lr.Access, RefreshToken: lr.Refresh, User: lr.User}
	if err := c.ref.replace(ctx, next); err != nil {
		c.metrics.Inc(MetricLoginFailure)
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.metrics.Inc(MetricLogin)
	c.ref.emit(ctx, events.TypeLogin, true, nil)
	c.logger.Info("logged in")
	return resp, nil
}

// Register posts payload to the register endpoint. It does not log in.
func (c *Client) Register(ctx context.Context, payload any) (*Response, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if c.config.Auth.RegisterPath == "" {
		return nil, fmt.Errorf("%w: no register path configured", ErrInvalidRequest)
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: c.config.Auth.RegisterPath, Body: payload})
}

// Logout clears the session and notifies OnLogout subscribers. When
// Auth.LogoutPath is set the refresh token is posted there first; that call is
// best effort and its failure does not stop the local logout.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.closed.Load() {
		return ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if path := c.config.Auth.LogoutPath; path != "" {
		if sess, err := c.store.Load(ctx); err == nil && sess.RefreshToken != "" {
			if _, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: refreshRequest{Refresh: sess.RefreshToken}}); err != nil {
				c.logger.Warn("server logout failed", "error", err)
			}
		}
	}

	if err := c.ref.replace(ctx, session.Session{}); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.metrics.Inc(MetricLogout)
	c.ref.emit(ctx, events.TypeLogout, true, nil)
	c.logouts.fire(LogoutEvent{Reason: LogoutExplicit, At: c.now()})
	return nil
}

// Session returns the stored session.
func (c *Client) Session(ctx context.Context) (session.Session, error) {
	if c == nil {
		return session.Session{}, ErrClientNotReady
	}
	return c.store.Load(ctx)
}

// Authenticated reports whether an access token is stored.
func (c *Client) Authenticated(ctx context.Context) bool {
	s, err := c.Session(ctx)
	return err == nil && s.AccessToken != ""
}

// OnLogout registers fn to run whenever the session is cleared, either because
// a refresh failed or because Logout was called. fn runs synchronously before
// requests waiting on the failed refresh are replayed, so it must not block on
// them. The returned func unregisters fn.
func (c *Client) OnLogout(fn func(LogoutEvent)) (cancel func()) {
	if c == nil {
		return func() {}
	}
	return c.logouts.subscribe(fn)
}

// Refreshing reports whether a refresh is in flight.
func (c *Client) Refreshing() bool {
	return c != nil && c.ref.inFlight()
}

// MetricsSnapshot returns a copy of the client metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return c.metrics.Snapshot()
}

// EventsDropped returns the number of events dropped under backpressure.
func (c *Client) EventsDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.events.Dropped()
}

// Close stops a refresh in flight and flushes queued events. Requests made
// after Close fail with ErrClientNotReady.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.ref.close()
	c.events.Close()
}
