package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type credentialFlags struct {
	username string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "account password (default $AUTHCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
}

func (f *credentialFlags) body() (map[string]string, error) {
	password := f.password
	if password == "" {
		password = os.Getenv("AUTHCTL_PASSWORD")
	}
	if password == "" {
		return nil, errors.New("password required: use --password or AUTHCTL_PASSWORD")
	}
	return map[string]string{"username": f.username, "password": password}, nil
}

func loginCmd(state **app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := creds.body()
			if err != nil {
				return err
			}
			a := *state
			if _, err := a.client.Login(cmd.Context(), body); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func registerCmd(state **app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; does not log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := creds.body()
			if err != nil {
				return err
			}
			resp, err := (*state).client.Register(cmd.Context(), body)
			if err != nil {
				return describe(err)
			}
			return printBody(cmd.OutOrStdout(), resp)
		},
	}
	creds.bind(cmd)
	return cmd
}

func logoutCmd(state **app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*state).client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
