// file: cmd/norbert/session.go
package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/pkg/util/stringutil"
	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var token, email, userID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a backend session token",
		Long: `Store the session token sent as the bearer credential to the backend.

The token is read from --token or, when omitted, from the first line of stdin:
  norbert login --email me@example.com < token.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp("login")
			if err != nil {
				return err
			}
			if token == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Session token: ")
				if token, err = readFirstLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			session, storage, err := a.session()
			if err != nil {
				return err
			}
			if err := session.Login(token, userID, email); err != nil {
				return errors.Wrap(err, "failed to store session token")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Token stored in %s.\n", storage.Describe())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Session token (read from stdin when empty).")
	cmd.Flags().StringVar(&email, "email", "", "Email of the account the token belongs to.")
	cmd.Flags().StringVar(&userID, "user-id", "", "User id of the account the token belongs to.")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp("logout")
			if err != nil {
				return err
			}
			session, storage, err := a.session()
			if err != nil {
				return err
			}
			if err := session.Logout(); err != nil {
				return errors.Wrap(err, "failed to delete session token")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out (%s).\n", storage.Describe())
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"whoami"},
		Short:   "Show the stored session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp("status")
			if err != nil {
				return err
			}
			session, storage, err := a.session()
			if err != nil {
				return err
			}
			data, err := session.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:  %s\n", stringutil.CoalesceString(a.cfg.Backend.URL, "(not configured)"))
			fmt.Fprintf(out, "Storage:  %s\n", storage.Describe())
			if data == nil || data.Token == "" {
				fmt.Fprintln(out, "Session:  not logged in")
				return nil
			}
			fmt.Fprintln(out, "Session:  logged in")
			fmt.Fprintf(out, "Email:    %s\n", stringutil.CoalesceString(data.Email, "-"))
			fmt.Fprintf(out, "User ID:  %s\n", stringutil.CoalesceString(data.UserID, "-"))
			fmt.Fprintf(out, "Token:    %s\n", stringutil.MaskSecret(data.Token, 4))
			fmt.Fprintf(out, "Updated:  %s\n", data.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func readFirstLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "failed to read token")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.WithHint(errors.New("no session token given"), "Pass --token or pipe the token on stdin.")
	}
	return line, nil
}
