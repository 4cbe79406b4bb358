package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/authclient/internal/events"
	"github.com/MrEthical07/authclient/session"
)

// outcome is the settled result of a refresh flight, shared by every waiter.
type outcome struct {
	plan plan
	// err is the refresh failure cause; nil on success or when superseded.
	err error
}

// flight is one refresh in progress. done is closed exactly once, after out
// is written. Tickets form a FIFO list in 401-observation order; the list is
// only appended to while the flight is installed in refresher.flight.
type flight struct {
	done chan struct{}
	out  outcome
	gen  uint64
	head *ticket
	tail *ticket
}

func (f *flight) enqueue(r *refresher) *ticket {
	t := &ticket{r: r, turn: make(chan struct{})}
	if f.tail == nil {
		f.head = t
	} else {
		f.tail.next = t
	}
	f.tail = t
	return t
}

// ticket is one queued caller. Its turn opens when the previous ticket has
// dispatched its replay; pass hands the turn to the next ticket exactly once.
type ticket struct {
	r    *refresher
	turn chan struct{}
	next *ticket
	once sync.Once
}

func (t *ticket) pass() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.r.mu.Lock()
		next := t.next
		t.r.mu.Unlock()
		if next != nil {
			close(next.turn)
		}
	})
}

// resolution tells the caller how to continue after a 401.
type resolution struct {
	plan plan
	// surface means the original 401 is returned as is.
	surface bool
	// t must be passed after the replay is dispatched; nil when not queued.
	t *ticket
	// cause is why a queued replay goes out as a guest.
	cause error
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// refresher owns every write to the session store and the refresh state.
type refresher struct {
	cfg     RefreshConfig
	path    string
	store   session.Store
	exec    *executor
	metrics *Metrics
	events  *events.Dispatcher
	logouts *notifier
	logger  *slog.Logger

	mu     sync.Mutex
	flight *flight
	// gen changes whenever the stored session is replaced: a flight settling,
	// Login, or Logout.
	gen uint64

	// writeMu serializes store writes together with their gen check.
	writeMu sync.Mutex

	// shutdown ends with Client.Close and cancels the refresh in flight.
	shutdown context.Context
	stop     context.CancelFunc
}

// recover decides how a request that received a 401 while carrying sent
// continues. It joins the flight in progress, starts one, replays at once
// when the stored token already changed, or surfaces the 401 when there is
// nothing to recover.
func (r *refresher) recover(ctx context.Context, sent string) (resolution, error) {
	for {
		r.mu.Lock()
		if f := r.flight; f != nil {
			t := f.enqueue(r)
			r.mu.Unlock()
			r.metrics.Inc(MetricRefreshCoalesced)
			r.logger.Debug("joined refresh in progress")
			return r.await(ctx, f, t)
		}
		gen := r.gen
		r.mu.Unlock()

		sess, err := r.store.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return resolution{}, ctx.Err()
			}
			r.logger.Warn("session load failed, surfacing 401", "error", err)
			return resolution{surface: true}, nil
		}

		r.mu.Lock()
		if r.flight != nil || r.gen != gen {
			r.mu.Unlock()
			continue
		}

		switch {
		case sess.AccessToken != sent:
			r.mu.Unlock()
			r.metrics.Inc(MetricStaleTokenReplay)
			r.emit(ctx, events.TypeStaleTokenReplay, true, nil)
			if sess.AccessToken == "" {
				return resolution{plan: plan{mode: authGuest, replay: true}}, nil
			}
			return resolution{plan: plan{mode: authToken, token: sess.AccessToken, replay: true}}, nil

		case sent == "" && sess.RefreshToken == "":
			r.mu.Unlock()
			return resolution{surface: true}, nil

		default:
			f := &flight{done: make(chan struct{}), gen: r.gen}
			r.flight = f
			t := f.enqueue(r)
			r.mu.Unlock()

			go r.run(context.WithoutCancel(ctx), f, sess)
			return r.await(ctx, f, t)
		}
	}
}

// await blocks until the flight settles and t's turn opens. A caller that gives
// up still has its turn passed on so later tickets are not stranded.
func (r *refresher) await(ctx context.Context, f *flight, t *ticket) (resolution, error) {
	abandon := func() (resolution, error) {
		go func() {
			<-t.turn
			t.pass()
		}()
		return resolution{}, ctx.Err()
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		return abandon()
	}
	select {
	case <-t.turn:
	case <-ctx.Done():
		return abandon()
	}

	p := f.out.plan
	p.onWritten = t.pass
	return resolution{plan: p, t: t, cause: f.out.err}, nil
}

func (r *refresher) run(parent context.Context, f *flight, sess session.Session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(r.shutdown, cancel)
	defer stop()

	start := time.Now()
	r.metrics.Inc(MetricRefreshStarted)
	r.logger.Debug("refresh started")

	out := r.settle(ctx, f, sess)
	r.metrics.Observe(MetricRefreshLatency, time.Since(start))

	r.mu.Lock()
	r.flight = nil
	r.gen++
	r.mu.Unlock()

	f.out = out
	close(f.done)
	close(f.head.turn)
}

func (r *refresher) settle(ctx context.Context, f *flight, sess session.Session) outcome {
	next, err := r.exchange(ctx, sess)
	if err == nil {
		current, saveErr := r.commit(ctx, f.gen, next)
		switch {
		case !current:
			r.logger.Debug("refresh result discarded, session replaced meanwhile")
			return outcome{plan: plan{mode: authStored, replay: true}}
		case saveErr == nil:
			r.metrics.Inc(MetricRefreshSuccess)
			r.emit(ctx, events.TypeRefreshSuccess, true, nil)
			r.logger.Debug("refresh succeeded")
			return outcome{plan: plan{mode: authToken, token: next.AccessToken, replay: true}}
		default:
			err = fmt.Errorf("save refreshed session: %w", saveErr)
		}
	}

	if r.closed() {
		r.logger.Debug("refresh abandoned, client closed", "error", err)
		return outcome{plan: plan{mode: authStored, replay: true}, err: err}
	}

	r.metrics.Inc(MetricRefreshFailure)
	r.emit(ctx, events.TypeRefreshFailure, false, err)
	if !r.clearAfterFailure(ctx, f.gen, err) {
		return outcome{plan: plan{mode: authStored, replay: true}, err: err}
	}
	r.logger.Warn("refresh failed, continuing as guest", "error", err)
	r.emit(ctx, events.TypeGuestFallback, false, err)
	return outcome{plan: plan{mode: authGuest, replay: true}, err: err}
}

// exchange calls the refresh endpoint, retrying transport failures and 5xx
// responses up to MaxAttempts.
func (r *refresher) exchange(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.RefreshToken == "" {
		return session.Session{}, ErrNoRefreshToken
	}
	body, err := json.Marshal(refreshRequest{Refresh: sess.RefreshToken})
	if err != nil {
		return session.Session{}, err
	}
	c := &call{
		method:    http.MethodPost,
		path:      pathOnly(r.path),
		body:      body,
		requestID: newRequestID(),
		auth:      true,
	}
	c.url, err = joinURL(r.exec.baseURL, r.path, nil)
	if err != nil {
		return session.Session{}, err
	}

	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && r.cfg.RetryBackoff > 0 {
			timer := time.NewTimer(r.cfg.RetryBackoff * time.Duration(attempt-1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return session.Session{}, fmt.Errorf("%w: %w", ErrRefreshRejected, ctx.Err())
			}
		}

		actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		resp, apiErr, _ := r.exec.send(actx, c, plan{mode: authGuest})
		cancel()
		if apiErr == nil {
			return decodeRefresh(resp, sess, r.cfg.RetainRefreshToken)
		}

		lastErr = apiErr
		if apiErr.Kind != KindNetwork && apiErr.Status < 500 {
			break
		}
		r.logger.Debug("refresh attempt failed", "attempt", attempt, "error", apiErr)
	}
	return session.Session{}, fmt.Errorf("%w: %w", ErrRefreshRejected, lastErr)
}

func decodeRefresh(resp *Response, prev session.Session, retain bool) (session.Session, error) {
	var rr refreshResponse
	if err := resp.Decode(&rr); err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}
	if rr.Access == "" {
		return session.Session{}, fmt.Errorf("%w: response carried no access token", ErrRefreshRejected)
	}
	next := session.Session{AccessToken: rr.Access, RefreshToken: rr.Refresh, User: prev.User}
	if next.RefreshToken == "" && retain {
		next.RefreshToken = prev.RefreshToken
	}
	return next, nil
}

// commit saves next if the session was not replaced since gen.
func (r *refresher) commit(ctx context.Context, gen uint64, next session.Session) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if !r.isCurrent(gen) {
		return false, nil
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return true, r.store.Save(sctx, next)
}

// clearAfterFailure clears the store and notifies subscribers, unless the
// session was replaced since gen. It reports whether it cleared.
func (r *refresher) clearAfterFailure(ctx context.Context, gen uint64, cause error) bool {
	r.writeMu.Lock()
	if !r.isCurrent(gen) {
		r.writeMu.Unlock()
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	if err := r.store.Clear(sctx); err != nil {
		r.logger.Warn("session clear failed", "error", err)
	}
	cancel()
	r.writeMu.Unlock()

	r.metrics.Inc(MetricLogout)
	r.emit(ctx, events.TypeLogout, true, cause)
	r.logouts.fire(LogoutEvent{Reason: LogoutRefreshFailed, Err: cause, At: time.Now()})
	return true
}

// replace stores s (Login) or clears the store (Logout, s empty) and marks the
// session as replaced so an in-flight refresh does not overwrite it.
func (r *refresher) replace(ctx context.Context, s session.Session) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var err error
	if s.Empty() {
		err = r.store.Clear(ctx)
	} else {
		err = r.store.Save(ctx, s)
	}

	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
	return err
}

func (r *refresher) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

// close cancels the refresh in flight. A refresh cut short this way neither
// clears the store nor notifies subscribers.
func (r *refresher) close() {
	r.stop()
}

func (r *refresher) closed() bool {
	return r.shutdown.Err() != nil
}

// inFlight reports whether a refresh is in progress.
func (r *refresher) inFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flight != nil
}

func (r *refresher) emit(ctx context.Context, typ events.Type, success bool, err error) {
	if r.events == nil {
		return
	}
	ev := events.Event{Timestamp: time.Now().UTC(), Type: typ, Success: success}
	if err != nil {
		ev.Error = err.Error()
	}
	r.events.Emit(ctx, ev)
}
