package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/session"
)

// app holds what every client-backed command needs. It is built in the root
// PersistentPreRunE and torn down after the command returns.
type app struct {
	settings Settings
	logger   *slog.Logger
	store    session.Store
	client   *authclient.Client
	closers  []func()
}

func (a *app) close() {
	if a == nil {
		return
	}
	if a.client != nil {
		a.client.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type rootFlags struct {
	configPath string
	baseURL    string
	logLevel   string
	storeKind  string
}

// Execute runs authctl with the process arguments.
func Execute() error {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	var state *app
	root := newRootCmd(&state, getenv)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	state.close()
	return err
}

func newRootCmd(state **app, getenv func(string) string) *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Authenticated API client with shared token refresh",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), getenv)
			if err != nil {
				return err
			}
			*state = a
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.config/authctl/config.toml)")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "API base URL, overrides config")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.storeKind, "store", "", "session store: file, redis or memory")

	root.AddCommand(
		loginCmd(state),
		logoutCmd(state),
		registerCmd(state),
		requestCmd(state),
		sessionCmd(state),
		serveFakeCmd(),
	)
	return root
}

func newApp(flags rootFlags, logOut io.Writer, getenv func(string) string) (*app, error) {
	settings, err := LoadSettings(flags.configPath, getenv)
	if err != nil {
		return nil, err
	}
	setString(&settings.Client.BaseURL, flags.baseURL)
	setString(&settings.LogLevel, flags.logLevel)
	setString(&settings.Store.Kind, flags.storeKind)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{
		settings: settings,
		logger:   newLogger(logOut, settings.LogLevel, settings.LogFormat),
	}
	store, err := a.openStore()
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	client, err := authclient.New().
		WithConfig(settings.Client).
		WithStore(store).
		WithLogger(a.logger).
		Build()
	if err != nil {
		a.close()
		return nil, err
	}
	client.OnLogout(func(ev authclient.LogoutEvent) {
		if ev.Reason == authclient.LogoutRefreshFailed {
			a.logger.Warn("session expired, continuing as guest", "error", ev.Err)
		}
	})
	a.client = client
	return a, nil
}

func (a *app) openStore() (session.Store, error) {
	cfg := a.settings.Store
	switch cfg.Kind {
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return session.NewRedisStore(rdb, cfg.RedisPrefix, cfg.RedisTTL), nil
	case "memory":
		return session.NewMemoryStore(), nil
	default:
		var opts []session.FileOption
		if cfg.Passphrase != "" {
			opts = append(opts, session.WithPassphrase(cfg.Passphrase))
		}
		return session.NewFileStore(cfg.Path, opts...)
	}
}
