// file: cmd/norbert/channels.go
package main

import (
	"encoding/json"
	"fmt"

	"github.com/dkoosis/norbert/internal/auth"
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/connect"
	"github.com/spf13/cobra"
)

func channelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List linked channels by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp("channels")
			if err != nil {
				return err
			}
			session, _, err := a.session()
			if err != nil {
				return err
			}
			client, cleanup, err := a.backendClient(cmd.Context(), session)
			if err != nil {
				return err
			}
			defer cleanup()

			channels, err := client.ListChannels(cmd.Context())
			if err != nil {
				return err
			}
			backend.SortByPriority(channels)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(channels)
			}
			printChannels(out, channels)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func phasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "Print the connection phase machine as a Mermaid diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, err := connect.NewPhaseMachine(nil)
			if err != nil {
				return err
			}
			diagram, err := machine.Diagram()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), diagram)
			return nil
		},
	}
}

func diagnoseKeychainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose-keychain",
		Short: "Test and diagnose keychain access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debugMode = true
			a, err := newApp("keychain_diag")
			if err != nil {
				return err
			}
			a.logger.Info("Starting keychain diagnostics...")

			out := cmd.OutOrStdout()
			service := a.cfg.Auth.KeyringService
			fmt.Fprintln(out, "\n=== Keychain Diagnostics ===")
			fmt.Fprintf(out, "Keyring Service: %s\n", service)
			fmt.Fprintf(out, "Keyring User: %s\n\n", a.cfg.Auth.KeyringUser)

			results := auth.DiagnoseKeyring(service)
			passed := true
			for _, r := range results {
				fmt.Fprintln(out, auth.FormatDiagnosticResult(r))
				passed = passed && r.Success
			}

			fmt.Fprintln(out, "\nRecommendations:")
			if passed {
				fmt.Fprintln(out, "Keychain appears to be working correctly. If you're still experiencing issues:")
				fmt.Fprintf(out, "1. Try deleting any existing '%s' entries in your keychain.\n", service)
				fmt.Fprintln(out, "2. Ensure your login keychain is unlocked.")
				fmt.Fprintln(out, "3. Look for permission dialogs when the application runs.")
				return nil
			}
			fmt.Fprintln(out, "The OS keychain is not usable. Norbert falls back to the token file:")
			fmt.Fprintf(out, "  %s\n", a.cfg.Auth.TokenPath)
			fmt.Fprintln(out, "On Linux, make sure a Secret Service provider (gnome-keyring, KWallet) is running.")
			return nil
		},
	}
}
