// Package commands implements the authctl command tree.
//
// authctl drives an authclient.Client from the shell: log in, send requests
// that recover from token expiry, inspect or clear the stored session, and run
// the fake backend locally for demos. Settings come from a TOML file
// (default ~/.config/authctl/config.toml) overridden by AUTHCTL_* variables
// and then by flags.
package commands
