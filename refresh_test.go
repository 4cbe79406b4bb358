package authclient

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authclient/internal/fakeapi"
	"github.com/MrEthical07/authclient/session"
)

func TestRefreshRetriesServerErrors(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Refresh.MaxAttempts = 3 })
	f.seedExpired()

	var n atomic.Int32
	f.api.SetRefreshHook(func(*http.Request) int {
		if n.Add(1) < 3 {
			return http.StatusServiceUnavailable
		}
		return 0
	})

	if _, err := f.client.Get(context.Background(), "/orders/"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := f.api.RefreshCalls(); got != 3 {
		t.Fatalf("expected 3 refresh attempts, got %d", got)
	}
	if got := f.metric(MetricRefreshStarted); got != 1 {
		t.Fatalf("retries must stay within one flight, got %d flights", got)
	}
	if len(f.logoutEvents()) != 0 {
		t.Fatal("recovered refresh must not log out")
	}
}

func TestRefreshDoesNotRetryClientErrors(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Refresh.MaxAttempts = 3 })
	f.seedExpired()
	f.api.SetRefreshHook(func(*http.Request) int { return http.StatusBadRequest })

	_, err := f.client.Get(context.Background(), "/orders/")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected guest replay 401, got %v", err)
	}
	if got := f.api.RefreshCalls(); got != 1 {
		t.Fatalf("a 4xx refresh must not be retried, got %d calls", got)
	}
	if !f.stored().Empty() {
		t.Fatal("expected store cleared")
	}
}

func TestRefreshTimeoutFallsBackToGuest(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Refresh.Timeout = 50 * time.Millisecond })
	f.seedExpired()
	f.gateRefresh(0)

	resp, err := f.client.Get(context.Background(), "/events/")
	if err != nil {
		t.Fatalf("expected guest replay to succeed, got %v", err)
	}
	var body struct {
		Member bool `json:"member"`
	}
	if err := resp.Decode(&body); err != nil || body.Member {
		t.Fatalf("expected guest view of events, got %s", resp.Body)
	}

	logouts := f.logoutEvents()
	if len(logouts) != 1 {
		t.Fatalf("expected one logout, got %d", len(logouts))
	}
	if !errors.Is(logouts[0].Err, ErrRefreshRejected) || !errors.Is(logouts[0].Err, ErrNetwork) {
		t.Fatalf("expected a network refresh failure, got %v", logouts[0].Err)
	}
	if got := f.metric(MetricRefreshFailure); got != 1 {
		t.Fatalf("expected refresh failure metric, got %d", got)
	}
}

func TestMissingRefreshTokenLogsOutWithoutCallingServer(t *testing.T) {
	f := newFixture(t, nil)
	s := f.seedExpired()
	_ = f.store.Save(context.Background(), session.Session{AccessToken: s.AccessToken})

	if _, err := f.client.Get(context.Background(), "/events/"); err != nil {
		t.Fatalf("expected guest replay to succeed, got %v", err)
	}
	if got := f.api.RefreshCalls(); got != 0 {
		t.Fatalf("expected no refresh call, got %d", got)
	}
	logouts := f.logoutEvents()
	if len(logouts) != 1 || !errors.Is(logouts[0].Err, ErrNoRefreshToken) {
		t.Fatalf("expected logout caused by missing refresh token, got %+v", logouts)
	}
}

func TestRefreshWithoutAccessTokenInResponse(t *testing.T) {
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/refresh/" {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"refresh":"only-refresh"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	f := newFixtureWithAPI(t, fakeapi.DefaultConfig(), nil, wrap)
	f.seedExpired()

	_, err := f.client.Get(context.Background(), "/orders/")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected guest 401, got %v", err)
	}
	logouts := f.logoutEvents()
	if len(logouts) != 1 || !errors.Is(logouts[0].Err, ErrRefreshRejected) {
		t.Fatalf("expected rejected refresh logout, got %+v", logouts)
	}
}

func TestRetainRefreshToken(t *testing.T) {
	apiCfg := fakeapi.DefaultConfig()
	apiCfg.RetainRefresh = true

	tests := []struct {
		name   string
		retain bool
	}{
		{name: "retained", retain: true},
		{name: "dropped", retain: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWithAPI(t, apiCfg, func(cfg *Config) { cfg.Refresh.RetainRefreshToken = tt.retain }, nil)
			old := f.seedExpired()

			if _, err := f.client.Get(context.Background(), "/orders/"); err != nil {
				t.Fatalf("get: %v", err)
			}
			got := f.stored()
			if got.AccessToken == old.AccessToken {
				t.Fatal("expected a new access token")
			}
			if tt.retain && got.RefreshToken != old.RefreshToken {
				t.Fatalf("expected the old refresh token kept, got %q", got.RefreshToken)
			}
			if !tt.retain && got.RefreshToken != "" {
				t.Fatalf("expected no refresh token, got %q", got.RefreshToken)
			}
		})
	}
}

func TestCanceledWaiterDoesNotStrandQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.seedExpired()
	release := f.gateRefresh(0)
	ctx := context.Background()

	first := f.goGet(ctx, "/orders/")
	waitFor(t, "refresh to start", func() bool { return f.api.RefreshCalls() == 1 })

	cctx, cancel := context.WithCancel(ctx)
	canceled := f.goGet(cctx, "/profile/")
	waitFor(t, "profile to queue", func() bool { return f.metric(MetricRefreshCoalesced) == 1 })
	last := f.goGet(ctx, "/events/")
	waitFor(t, "events to queue", func() bool { return f.metric(MetricRefreshCoalesced) == 2 })

	cancel()
	cr := recv(t, canceled)
	if !errors.Is(cr.err, context.Canceled) || !errors.Is(cr.err, ErrNetwork) {
		t.Fatalf("expected canceled network error, got %v", cr.err)
	}

	mark := len(f.tr.Calls())
	release()
	if r := recv(t, first); r.err != nil {
		t.Fatalf("first: %v", r.err)
	}
	if r := recv(t, last); r.err != nil {
		t.Fatalf("last: %v", r.err)
	}

	replays := f.tr.callsSince(mark)
	if len(replays) != 2 || replays[0].Path != "/orders/" || replays[1].Path != "/events/" {
		t.Fatalf("unexpected replays %+v", replays)
	}
}

func TestCanceledStarterDoesNotAbortRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.seedExpired()
	release := f.gateRefresh(0)

	cctx, cancel := context.WithCancel(context.Background())
	starter := f.goGet(cctx, "/orders/")
	waitFor(t, "refresh to start", func() bool { return f.api.RefreshCalls() == 1 })
	cancel()
	if r := recv(t, starter); !errors.Is(r.err, context.Canceled) {
		t.Fatalf("expected canceled starter, got %v", r.err)
	}

	release()
	waitFor(t, "refresh to settle", func() bool { return !f.client.Refreshing() })
	if got := f.metric(MetricRefreshSuccess); got != 1 {
		t.Fatalf("expected the refresh to complete, got %d successes", got)
	}
	if _, err := f.client.Get(context.Background(), "/profile/"); err != nil {
		t.Fatalf("profile with refreshed session: %v", err)
	}
	if got := f.api.RefreshCalls(); got != 1 {
		t.Fatalf("expected one refresh call, got %d", got)
	}
}

func TestLoginDuringRefreshWins(t *testing.T) {
	tests := []struct {
		name          string
		refreshStatus int
	}{
		{name: "refresh succeeds", refreshStatus: 0},
		{name: "refresh rejected", refreshStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seedExpired()
			release := f.gateRefresh(tt.refreshStatus)
			ctx := context.Background()

			pending := f.goGet(ctx, "/orders/")
			waitFor(t, "refresh to start", func() bool { return f.api.RefreshCalls() == 1 })

			if _, err := f.client.Login(ctx, map[string]string{"username": "amina", "password": "correct-horse"}); err != nil {
				t.Fatalf("login: %v", err)
			}
			loggedIn := f.stored()

			release()
			if r := recv(t, pending); r.err != nil {
				t.Fatalf("pending request: %v", r.err)
			}

			if got := f.stored(); got.AccessToken != loggedIn.AccessToken || got.RefreshToken != loggedIn.RefreshToken {
				t.Fatal("settled refresh overwrote the login session")
			}
			if len(f.logoutEvents()) != 0 {
				t.Fatal("superseded refresh must not log out")
			}
			calls := f.tr.Calls()
			if last := calls[len(calls)-1]; last.Authorization != "Bearer "+loggedIn.AccessToken {
				t.Fatalf("replay carried %q, want the login token", last.Authorization)
			}
		})
	}
}

func TestProactiveRefresh(t *testing.T) {
	apiCfg := fakeapi.DefaultConfig()
	apiCfg.AccessTTL = time.Minute
	f := newFixtureWithAPI(t, apiCfg, func(cfg *Config) { cfg.Refresh.ProactiveWindow = 2 * time.Minute }, nil)
	old := f.seedValid()

	if _, err := f.client.Get(context.Background(), "/orders/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := f.api.RefreshCalls(); got != 1 {
		t.Fatalf("expected a proactive refresh, got %d calls", got)
	}
	hits := f.api.HitsFor("/orders/")
	if len(hits) != 1 || hits[0].Status != http.StatusOK {
		t.Fatalf("expected a single successful send, got %+v", hits)
	}
	if hits[0].Authorization == "Bearer "+old.AccessToken {
		t.Fatal("expected the refreshed token on the first send")
	}
	if got := f.metric(MetricProactiveRefresh); got != 1 {
		t.Fatalf("expected proactive metric 1, got %d", got)
	}
}

func TestRecoverWithStaleToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.client.ref.recover(ctx, "")
	if err != nil || !res.surface {
		t.Fatalf("guest with no session must surface, got %+v %v", res, err)
	}

	res, err = f.client.ref.recover(ctx, "superseded-token")
	if err != nil || res.surface || res.plan.mode != authGuest || !res.plan.replay {
		t.Fatalf("expected guest replay after logout elsewhere, got %+v %v", res, err)
	}

	current := f.seedValid()
	res, err = f.client.ref.recover(ctx, "superseded-token")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if res.plan.mode != authToken || res.plan.token != current.AccessToken || res.t != nil {
		t.Fatalf("expected immediate replay with stored token, got %+v", res)
	}
	if got := f.metric(MetricStaleTokenReplay); got != 2 {
		t.Fatalf("expected 2 stale replays, got %d", got)
	}
	if got := f.api.RefreshCalls(); got != 0 {
		t.Fatalf("stale 401s must not refresh, got %d", got)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (session.Session, error) {
	return session.Session{}, errors.New("store offline")
}
func (failingStore) Save(context.Context, session.Session) error { return errors.New("store offline") }
func (failingStore) Clear(context.Context) error                 { return errors.New("store offline") }

func TestStoreLoadFailureSurfacesUnauthorized(t *testing.T) {
	api, err := fakeapi.New(fakeapi.DefaultConfig())
	if err != nil {
		t.Fatalf("fake api: %v", err)
	}
	client, err := New().
		WithConfig(testConfig()).
		WithStore(failingStore{}).
		WithHTTPClient(&http.Client{Transport: &handlerTransport{h: api}}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer client.Close()

	_, err = client.Get(context.Background(), "/orders/")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 surfaced, got %v", err)
	}
	if got := api.RefreshCalls(); got != 0 {
		t.Fatalf("expected no refresh, got %d", got)
	}
}

func TestRefreshEventsEmitted(t *testing.T) {
	api, err := fakeapi.New(fakeapi.DefaultConfig())
	if err != nil {
		t.Fatalf("fake api: %v", err)
	}
	if _, err := api.AddUser("amina", "correct-horse"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	access, refresh, err := api.IssueExpiredSession("amina")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	api.RevokeRefresh(refresh)
	store := session.NewMemoryStore()
	_ = store.Save(context.Background(), session.Session{AccessToken: access, RefreshToken: refresh})

	cfg := testConfig()
	cfg.Events.Enabled = true
	sink := NewChannelSink(16)
	client, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithHTTPClient(&http.Client{Transport: &handlerTransport{h: api}}).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, _ = client.Get(context.Background(), "/orders/")
	client.Close()

	var got []EventType
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		if ev.Seq != uint64(len(got)+1) {
			t.Fatalf("event %s has seq %d, want %d", ev.Type, ev.Seq, len(got)+1)
		}
		got = append(got, ev.Type)
	}
	want := []EventType{EventRefreshFailure, EventLogout, EventGuestFallback}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestCloseInterruptsRefreshBackoff(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Refresh.MaxAttempts = 3
		cfg.Refresh.RetryBackoff = time.Minute
	})
	seeded := f.seedExpired()
	f.api.SetRefreshHook(func(*http.Request) int { return http.StatusServiceUnavailable })

	res := f.goGet(context.Background(), "/orders/")
	waitFor(t, "first refresh attempt", func() bool { return f.api.RefreshCalls() == 1 })
	f.client.Close()

	r := recv(t, res)
	var apiErr *APIError
	if !errors.As(r.err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected the replay 401 after close, got %v", r.err)
	}
	waitFor(t, "flight to settle", func() bool { return !f.client.Refreshing() })

	if got := f.api.RefreshCalls(); got != 1 {
		t.Fatalf("backoff must end on close, got %d refresh calls", got)
	}
	if now := f.stored(); now.AccessToken != seeded.AccessToken || now.RefreshToken != seeded.RefreshToken {
		t.Fatal("an abandoned refresh must not clear the session")
	}
	if len(f.logoutEvents()) != 0 {
		t.Fatal("an abandoned refresh must not fire logout")
	}
	if got := f.metric(MetricRefreshFailure); got != 0 {
		t.Fatalf("expected no refresh failure recorded, got %d", got)
	}
}

// stuckSink blocks every delivery until release is closed, ignoring its context.
type stuckSink struct {
	release chan struct{}
}

func (s stuckSink) Emit(context.Context, Event) {
	<-s.release
}

func TestCloseDoesNotHangOnBlockedSink(t *testing.T) {
	api, err := fakeapi.New(fakeapi.DefaultConfig())
	if err != nil {
		t.Fatalf("fake api: %v", err)
	}
	if _, err := api.AddUser("amina", "correct-horse"); err != nil {
		t.Fatalf("add user: %v", err)
	}

	cfg := testConfig()
	cfg.Events.Enabled = true
	cfg.Events.DropIfFull = false
	cfg.Events.FlushTimeout = 20 * time.Millisecond
	sink := stuckSink{release: make(chan struct{})}
	t.Cleanup(func() { close(sink.release) })
	client, err := New().
		WithConfig(cfg).
		WithHTTPClient(&http.Client{Transport: &handlerTransport{h: api}}).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	creds := map[string]string{"username": "amina", "password": "correct-horse"}
	for i := 0; i < 3; i++ {
		if _, err := client.Login(context.Background(), creds); err != nil {
			t.Fatalf("login: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		client.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a blocked event sink")
	}
	if _, err := client.Get(context.Background(), "/orders/"); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady after close, got %v", err)
	}
}
