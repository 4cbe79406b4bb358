package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/MrEthical07/authclient"
)

const (
	defaultConfigPath  = "~/.config/authctl/config.toml"
	defaultSessionPath = "~/.config/authctl/session.json"
	defaultRedisPrefix = "authctl"
)

// fileConfig is the on-disk shape. Durations are Go duration strings.
type fileConfig struct {
	BaseURL   string `toml:"base_url"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	HTTP struct {
		Timeout   string `toml:"timeout"`
		UserAgent string `toml:"user_agent"`
	} `toml:"http"`

	Auth struct {
		LoginPath    string   `toml:"login_path"`
		RefreshPath  string   `toml:"refresh_path"`
		RegisterPath string   `toml:"register_path"`
		LogoutPath   string   `toml:"logout_path"`
		Extra        []string `toml:"extra_paths"`
	} `toml:"auth"`

	Refresh struct {
		Timeout         string `toml:"timeout"`
		MaxAttempts     int    `toml:"max_attempts"`
		ProactiveWindow string `toml:"proactive_window"`
		ReplayHandoff   string `toml:"replay_handoff"`
		RetainRefresh   *bool  `toml:"retain_refresh_token"`
	} `toml:"refresh"`

	Store struct {
		Kind        string `toml:"kind"`
		Path        string `toml:"path"`
		Passphrase  string `toml:"passphrase"`
		RedisAddr   string `toml:"redis_addr"`
		RedisPrefix string `toml:"redis_prefix"`
		RedisTTL    string `toml:"redis_ttl"`
	} `toml:"store"`
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Kind        string
	Path        string
	Passphrase  string
	RedisAddr   string
	RedisPrefix string
	RedisTTL    time.Duration
}

// Settings is the resolved CLI configuration.
type Settings struct {
	Client    authclient.Config
	Store     StoreConfig
	LogLevel  string
	LogFormat string
}

// LoadSettings reads path (or the default location), then applies AUTHCTL_*
// overrides from getenv. A missing file yields defaults.
func LoadSettings(path string, getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := Settings{
		Client:    authclient.DefaultConfig(),
		Store:     StoreConfig{Kind: "file", Path: mustExpand(defaultSessionPath), RedisPrefix: defaultRedisPrefix},
		LogLevel:  "info",
		LogFormat: "text",
	}
	s.Client.Auth.LogoutPath = "/auth/logout/"

	resolved, err := expandPath(orDefault(path, defaultConfigPath))
	if err != nil {
		return Settings{}, err
	}
	raw, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if strings.TrimSpace(path) != "" {
			return Settings{}, fmt.Errorf("open config: %w", err)
		}
	case err != nil:
		return Settings{}, fmt.Errorf("read config: %w", err)
	default:
		var fc fileConfig
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
		if err := s.apply(fc); err != nil {
			return Settings{}, err
		}
	}

	if err := s.applyEnv(getenv); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) apply(fc fileConfig) error {
	setString(&s.Client.BaseURL, fc.BaseURL)
	setString(&s.LogLevel, fc.LogLevel)
	setString(&s.LogFormat, fc.LogFormat)

	if err := setDuration(&s.Client.HTTP.RequestTimeout, fc.HTTP.Timeout, "http.timeout"); err != nil {
		return err
	}
	setString(&s.Client.HTTP.UserAgent, fc.HTTP.UserAgent)

	setString(&s.Client.Auth.LoginPath, fc.Auth.LoginPath)
	setString(&s.Client.Auth.RefreshPath, fc.Auth.RefreshPath)
	setString(&s.Client.Auth.RegisterPath, fc.Auth.RegisterPath)
	setString(&s.Client.Auth.LogoutPath, fc.Auth.LogoutPath)
	if len(fc.Auth.Extra) > 0 {
		s.Client.Auth.ExtraAuthPaths = append([]string(nil), fc.Auth.Extra...)
	}

	if err := setDuration(&s.Client.Refresh.Timeout, fc.Refresh.Timeout, "refresh.timeout"); err != nil {
		return err
	}
	if fc.Refresh.MaxAttempts != 0 {
		s.Client.Refresh.MaxAttempts = fc.Refresh.MaxAttempts
	}
	if err := setDuration(&s.Client.Refresh.ProactiveWindow, fc.Refresh.ProactiveWindow, "refresh.proactive_window"); err != nil {
		return err
	}
	if err := setDuration(&s.Client.Refresh.ReplayHandoff, fc.Refresh.ReplayHandoff, "refresh.replay_handoff"); err != nil {
		return err
	}
	if fc.Refresh.RetainRefresh != nil {
		s.Client.Refresh.RetainRefreshToken = *fc.Refresh.RetainRefresh
	}

	setString(&s.Store.Kind, fc.Store.Kind)
	if p := strings.TrimSpace(fc.Store.Path); p != "" {
		s.Store.Path = mustExpand(p)
	}
	setString(&s.Store.Passphrase, fc.Store.Passphrase)
	setString(&s.Store.RedisAddr, fc.Store.RedisAddr)
	setString(&s.Store.RedisPrefix, fc.Store.RedisPrefix)
	return setDuration(&s.Store.RedisTTL, fc.Store.RedisTTL, "store.redis_ttl")
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	setString(&s.Client.BaseURL, getenv("AUTHCTL_BASE_URL"))
	setString(&s.LogLevel, getenv("AUTHCTL_LOG_LEVEL"))
	setString(&s.LogFormat, getenv("AUTHCTL_LOG_FORMAT"))
	setString(&s.Store.Kind, getenv("AUTHCTL_STORE"))
	if p := strings.TrimSpace(getenv("AUTHCTL_SESSION_PATH")); p != "" {
		s.Store.Path = mustExpand(p)
	}
	setString(&s.Store.Passphrase, getenv("AUTHCTL_PASSPHRASE"))
	setString(&s.Store.RedisAddr, getenv("AUTHCTL_REDIS_ADDR"))
	if v := strings.TrimSpace(getenv("AUTHCTL_REFRESH_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHCTL_REFRESH_ATTEMPTS: %w", err)
		}
		s.Client.Refresh.MaxAttempts = n
	}
	return setDuration(&s.Client.Refresh.ProactiveWindow, getenv("AUTHCTL_PROACTIVE_WINDOW"), "AUTHCTL_PROACTIVE_WINDOW")
}

// Validate checks the resolved settings, client config included.
func (s Settings) Validate() error {
	switch s.Store.Kind {
	case "file":
		if s.Store.Path == "" {
			return errors.New("store.path is required for the file store")
		}
	case "redis":
		if s.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store kind %q", s.Store.Kind)
	}
	return s.Client.Validate()
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
