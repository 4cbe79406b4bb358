package authclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authclient/internal/fakeapi"
	"github.com/MrEthical07/authclient/session"
)

const testBaseURL = "http://api.test"

type recordedCall struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// handlerTransport serves requests in-process. It never reports request
// writes, so a queued replay starts once the one ahead returns or its
// handoff delay passes.
type handlerTransport struct {
	h     http.Handler
	mu    sync.Mutex
	calls []recordedCall
}

func (tr *handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.mu.Lock()
	tr.calls = append(tr.calls, recordedCall{
		Method:        req.Method,
		Path:          req.URL.Path,
		Authorization: req.Header.Get("Authorization"),
		RequestID:     req.Header.Get("X-Request-ID"),
	})
	tr.mu.Unlock()

	sreq := req.Clone(req.Context())
	if sreq.Body == nil {
		sreq.Body = http.NoBody
	}
	sreq.RequestURI = req.URL.RequestURI()

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.h.ServeHTTP(rec, sreq)
	}()
	select {
	case <-done:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}

	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (tr *handlerTransport) Calls() []recordedCall {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]recordedCall, len(tr.calls))
	copy(out, tr.calls)
	return out
}

// callsSince returns the calls made after the first n.
func (tr *handlerTransport) callsSince(n int) []recordedCall {
	return tr.Calls()[n:]
}

type fixture struct {
	t      *testing.T
	api    *fakeapi.Server
	tr     *handlerTransport
	store  *session.MemoryStore
	client *Client

	mu      sync.Mutex
	logouts []LogoutEvent
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.Auth.LogoutPath = "/auth/logout/"
	cfg.Refresh.Timeout = 2 * time.Second
	cfg.Refresh.RetryBackoff = time.Millisecond
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	return newFixtureWithAPI(t, fakeapi.DefaultConfig(), mutate, nil)
}

// newFixtureWithAPI builds a client against a fake API. wrap, when set,
// decorates the fake API handler.
func newFixtureWithAPI(t *testing.T, apiCfg fakeapi.Config, mutate func(*Config), wrap func(http.Handler) http.Handler) *fixture {
	t.Helper()

	api, err := fakeapi.New(apiCfg)
	if err != nil {
		t.Fatalf("fake api: %v", err)
	}
	if _, err := api.AddUser("amina", "correct-horse"); err != nil {
		t.Fatalf("add user: %v", err)
	}

	var h http.Handler = api
	if wrap != nil {
		h = wrap(api)
	}

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		t:     t,
		api:   api,
		tr:    &handlerTransport{h: h},
		store: session.NewMemoryStore(),
	}
	client, err := New().
		WithConfig(cfg).
		WithStore(f.store).
		WithHTTPClient(&http.Client{Transport: f.tr}).
		Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	client.OnLogout(func(ev LogoutEvent) {
		f.mu.Lock()
		f.logouts = append(f.logouts, ev)
		f.mu.Unlock()
	})
	t.Cleanup(client.Close)
	f.client = client
	return f
}

// seedExpired stores a session whose access token the server rejects.
func (f *fixture) seedExpired() session.Session {
	f.t.Helper()
	access, refresh, err := f.api.IssueExpiredSession("amina")
	if err != nil {
		f.t.Fatalf("issue expired session: %v", err)
	}
	s := session.Session{AccessToken: access, RefreshToken: refresh}
	if err := f.store.Save(context.Background(), s); err != nil {
		f.t.Fatalf("seed store: %v", err)
	}
	return s
}

func (f *fixture) seedValid() session.Session {
	f.t.Helper()
	access, refresh, err := f.api.IssueSession("amina")
	if err != nil {
		f.t.Fatalf("issue session: %v", err)
	}
	s := session.Session{AccessToken: access, RefreshToken: refresh}
	if err := f.store.Save(context.Background(), s); err != nil {
		f.t.Fatalf("seed store: %v", err)
	}
	return s
}

func sessionWith(access, refresh string) session.Session {
	return session.Session{AccessToken: access, RefreshToken: refresh}
}

func (f *fixture) stored() session.Session {
	f.t.Helper()
	s, err := f.store.Load(context.Background())
	if err != nil {
		f.t.Fatalf("load store: %v", err)
	}
	return s
}

func (f *fixture) logoutEvents() []LogoutEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogoutEvent(nil), f.logouts...)
}

// gateRefresh blocks refresh calls until the returned release func runs.
// status is what the gated refresh answers with; 0 lets it proceed.
func (f *fixture) gateRefresh(status int) (release func()) {
	gate := make(chan struct{})
	f.api.SetRefreshHook(func(*http.Request) int {
		<-gate
		return status
	})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	f.t.Cleanup(release)
	return release
}

func (f *fixture) metric(id MetricID) uint64 {
	return f.client.metrics.Value(id)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type result struct {
	resp *Response
	err  error
}

func (f *fixture) goGet(ctx context.Context, path string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := f.client.Get(ctx, path)
		ch <- result{resp: resp, err: err}
	}()
	return ch
}

func recv(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request result")
		return result{}
	}
}
