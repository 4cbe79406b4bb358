package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authclient/internal/fakeapi"
)

func serveFakeCmd() *cobra.Command {
	var (
		addr      string
		username  string
		password  string
		accessTTL time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run the in-process fake backend on a local address",
		Args:  cobra.NoArgs,
		// serve-fake needs no client or session store.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), cmd.Flag("log-level").Value.String(), "text")

			cfg := fakeapi.DefaultConfig()
			cfg.AccessTTL = accessTTL
			api, err := fakeapi.New(cfg)
			if err != nil {
				return err
			}
			if username != "" {
				if _, err := api.AddUser(username, password); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("fake api listening", "addr", addr, "access_ttl", accessTTL)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down", "requests", len(api.Hits()), "refresh_calls", api.RefreshCalls())
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&username, "user", "demo", "seed a user with this username")
	cmd.Flags().StringVar(&password, "password", "demo-password", "password for the seeded user")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", time.Minute, "access token lifetime")
	return cmd
}
