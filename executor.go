package authclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/MrEthical07/authclient/session"
)

const maxResponseBody = 32 << 20

// authMode selects which credential a send attaches.
type authMode uint8

const (
	// authStored reads the access token from the session store.
	authStored authMode = iota
	// authToken attaches plan.token.
	authToken
	// authGuest attaches nothing.
	authGuest
)

// plan describes one send of a call.
type plan struct {
	mode  authMode
	token string
	// replay marks a send that follows a 401; its own 401 is never refreshed.
	replay bool
	// onWritten runs once the request has been written to the connection.
	onWritten func()
}

type executor struct {
	baseURL   string
	client    *http.Client
	store     session.Store
	cfg       HTTPConfig
	authPaths map[string]struct{}
	metrics   *Metrics
	logger    *slog.Logger
	// maxBody caps how many response bytes are read.
	maxBody int64
}

func newExecutor(cfg Config, client *http.Client, store session.Store, metrics *Metrics, logger *slog.Logger) *executor {
	paths := make(map[string]struct{}, 3+len(cfg.Auth.ExtraAuthPaths))
	for _, p := range []string{cfg.Auth.LoginPath, cfg.Auth.RefreshPath, cfg.Auth.RegisterPath, cfg.Auth.LogoutPath} {
		if p != "" {
			paths[pathOnly(p)] = struct{}{}
		}
	}
	for _, p := range cfg.Auth.ExtraAuthPaths {
		paths[pathOnly(p)] = struct{}{}
	}
	return &executor{
		baseURL:   cfg.BaseURL,
		client:    client,
		store:     store,
		cfg:       cfg.HTTP,
		authPaths: paths,
		metrics:   metrics,
		logger:    logger,
		maxBody:   maxResponseBody,
	}
}

func (e *executor) isAuthPath(p string) bool {
	_, ok := e.authPaths[pathOnly(p)]
	return ok
}

func (e *executor) prepare(req Request) (*call, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := joinURL(e.baseURL, req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	return &call{
		method:    method,
		path:      pathOnly(req.Path),
		url:       target,
		header:    req.Header.Clone(),
		body:      body,
		requestID: newRequestID(),
		auth:      e.isAuthPath(req.Path),
	}, nil
}

// send performs one HTTP exchange. It returns the response or exactly one
// *APIError, plus the access token that was attached ("" for none).
func (e *executor) send(ctx context.Context, c *call, p plan) (*Response, *APIError, string) {
	bearer := ""
	if !c.auth {
		switch p.mode {
		case authToken:
			bearer = p.token
		case authStored:
			sess, err := e.store.Load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ClassifyTransportError(ctx.Err()), ""
				}
				e.logger.Warn("session load failed, sending without credentials", "path", c.path, "error", err)
			} else {
				bearer = sess.AccessToken
			}
		}
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}
	if p.onWritten != nil {
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(httptrace.WroteRequestInfo) { p.onWritten() },
		})
	}

	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, ClassifyTransportError(fmt.Errorf("%w: %v", ErrInvalidRequest, err)), bearer
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if e.cfg.RequestIDHeader != "" {
		req.Header.Set(e.cfg.RequestIDHeader, c.requestID)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Del("Authorization")
	}

	e.metrics.Inc(MetricRequest)
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if !isCallerCancel(ctx, err) {
			e.metrics.Inc(MetricNetworkError)
		}
		e.metrics.Inc(MetricRequestFailure)
		e.logger.Debug("request failed", "method", c.method, "path", c.path, "request_id", c.requestID, "error", err)
		return nil, ClassifyTransportError(err), bearer
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	_ = resp.Body.Close()
	e.metrics.Observe(MetricRequestLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricNetworkError)
		e.metrics.Inc(MetricRequestFailure)
		return nil, ClassifyTransportError(err), bearer
	}
	if int64(len(raw)) > e.maxBody {
		e.metrics.Inc(MetricRequestFailure)
		e.logger.Warn("response body over limit", "method", c.method, "path", c.path, "status", resp.StatusCode, "limit", e.maxBody)
		return nil, tooLarge(resp.StatusCode, e.maxBody), bearer
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header, RequestID: c.requestID}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		out.NoContent = true
		return out, nil, bearer
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(raw)) == 0 {
			out.Body = append([]byte(nil), emptyBody...)
			return out, nil, bearer
		}
		if apiErr := ClassifyResponse(resp.StatusCode, resp.Status, raw); apiErr != nil {
			e.metrics.Inc(MetricRequestFailure)
			return nil, apiErr, bearer
		}
		out.Body = raw
		return out, nil, bearer
	}

	apiErr := ClassifyResponse(resp.StatusCode, resp.Status, raw)
	if apiErr.Unauthorized() {
		e.metrics.Inc(MetricUnauthorized)
	}
	e.metrics.Inc(MetricRequestFailure)
	e.logger.Debug("request rejected", "method", c.method, "path", c.path, "status", resp.StatusCode, "request_id", c.requestID, "replay", p.replay)
	return nil, apiErr, bearer
}

func tooLarge(status int, limit int64) *APIError {
	kind := KindHTTP
	if status >= 200 && status < 300 {
		kind = KindMalformed
	}
	return &APIError{
		Message: fmt.Sprintf("Response body exceeds %d bytes", limit),
		Status:  status,
		Kind:    kind,
		Err:     ErrResponseTooLarge,
	}
}
