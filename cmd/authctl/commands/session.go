package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authclient/token"
)

func sessionCmd(state **app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := (*state).client.Session(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if s.AccessToken == "" {
				fmt.Fprintln(w, "status:  guest")
				return nil
			}
			fmt.Fprintln(w, "status:  authenticated")
			if exp, err := token.Expiry(s.AccessToken); err == nil {
				fmt.Fprintf(w, "expires: %s (%s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
			}
			fmt.Fprintf(w, "refresh: %t\n", s.RefreshToken != "")
			if len(s.User) > 0 {
				fmt.Fprintf(w, "user:    %s\n", s.User)
			}
			return nil
		},
	}
}
