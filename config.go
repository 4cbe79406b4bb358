package authclient

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the full client configuration.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable. Start from [DefaultConfig] and override fields.
type Config struct {
	// BaseURL is prefixed to every request path, e.g. "https://api.example.org".
	BaseURL string
	HTTP    HTTPConfig
	Auth    AuthConfig
	Refresh RefreshConfig
	Events  EventsConfig
	Metrics MetricsConfig
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig controls how individual requests are sent.
type HTTPConfig struct {
	// RequestTimeout bounds each attempt, including replays. Zero disables it.
	RequestTimeout time.Duration
	UserAgent      string
	// RequestIDHeader names the header carrying the per-request ID. Empty disables it.
	RequestIDHeader string
}

/*
====================================
AUTH CONFIG
====================================
*/

// AuthConfig names the authentication endpoints. Requests to these paths never
// carry a bearer token and a 401 from them never starts a refresh.
type AuthConfig struct {
	LoginPath    string
	RefreshPath  string
	RegisterPath string
	// LogoutPath is optional; when set, Logout posts the refresh token to it.
	LogoutPath     string
	ExtraAuthPaths []string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls the single-flight refresh.
type RefreshConfig struct {
	// Timeout bounds each refresh attempt. A timed-out refresh is a failure.
	Timeout time.Duration
	// MaxAttempts is the number of refresh calls made per flight. Only transport
	// failures and 5xx responses are retried.
	MaxAttempts  int
	RetryBackoff time.Duration
	// RetainRefreshToken keeps the old refresh token when a successful refresh
	// response omits a new one. When false the session keeps only the new access
	// token and the next expiry logs the user out.
	RetainRefreshToken bool
	// ProactiveWindow refreshes before sending when the access token is a JWT
	// expiring within the window. Zero disables it.
	ProactiveWindow time.Duration
	// ReplayHandoff bounds how long a queued replay holds the next caller's
	// turn. The turn passes when the request is written or after this delay,
	// whichever comes first. Zero passes it as soon as the replay starts.
	ReplayHandoff time.Duration
}

// EventsConfig controls asynchronous delivery of client events to an EventSink.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FlushTimeout bounds how long Client.Close waits for queued events to
	// reach the sink. Zero waits without limit.
	FlushTimeout time.Duration
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			RequestTimeout:  30 * time.Second,
			UserAgent:       "authclient/1",
			RequestIDHeader: "X-Request-ID",
		},
		Auth: AuthConfig{
			LoginPath:    "/auth/login/",
			RefreshPath:  "/auth/refresh/",
			RegisterPath: "/auth/register/",
		},
		Refresh: RefreshConfig{
			Timeout:            10 * time.Second,
			MaxAttempts:        1,
			RetryBackoff:       200 * time.Millisecond,
			RetainRefreshToken: true,
			ReplayHandoff:      250 * time.Millisecond,
		},
		Events: EventsConfig{
			Enabled:      false,
			BufferSize:   256,
			DropIfFull:   true,
			FlushTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Auth.ExtraAuthPaths != nil {
		out.Auth.ExtraAuthPaths = append([]string(nil), cfg.Auth.ExtraAuthPaths...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return errors.New("BaseURL is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("BaseURL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("BaseURL scheme must be http or https")
	}

	if c.HTTP.RequestTimeout < 0 {
		return errors.New("HTTP RequestTimeout must be >= 0")
	}
	if strings.ContainsAny(c.HTTP.RequestIDHeader, " :\r\n") {
		return errors.New("HTTP RequestIDHeader is not a valid header name")
	}

	if !strings.HasPrefix(c.Auth.RefreshPath, "/") {
		return errors.New("Auth RefreshPath must start with /")
	}
	if !strings.HasPrefix(c.Auth.LoginPath, "/") {
		return errors.New("Auth LoginPath must start with /")
	}
	if c.Auth.RegisterPath != "" && !strings.HasPrefix(c.Auth.RegisterPath, "/") {
		return errors.New("Auth RegisterPath must start with /")
	}
	if c.Auth.LogoutPath != "" && !strings.HasPrefix(c.Auth.LogoutPath, "/") {
		return errors.New("Auth LogoutPath must start with /")
	}
	for _, p := range c.Auth.ExtraAuthPaths {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Auth ExtraAuthPaths entries must start with /")
		}
	}

	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.MaxAttempts < 1 || c.Refresh.MaxAttempts > 5 {
		return errors.New("Refresh MaxAttempts must be between 1 and 5")
	}
	if c.Refresh.RetryBackoff < 0 {
		return errors.New("Refresh RetryBackoff must be >= 0")
	}
	if c.Refresh.ProactiveWindow < 0 {
		return errors.New("Refresh ProactiveWindow must be >= 0")
	}
	if c.Refresh.ReplayHandoff < 0 {
		return errors.New("Refresh ReplayHandoff must be >= 0")
	}

	if c.Events.FlushTimeout < 0 {
		return errors.New("Events FlushTimeout must be >= 0")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when events are enabled")
	}
	return nil
}
