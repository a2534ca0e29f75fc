// file: cmd/norbert/main.go
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/spf13/cobra"
)

// Version information - should be set during build via ldflags.
var (
	Version    = "0.1.0-dev" // Default development version
	commitHash = "unknown"   // Set via ldflags during build
	buildDate  = "unknown"   // Set via ldflags during build
)

// Global flags shared by every subcommand.
var (
	configPath string
	debugMode  bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "norbert",
		Short:         "Norbert - link messaging and email accounts to the backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getDefaultConfigPath(), "Path to configuration file.")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging.")

	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(phasesCmd())
	rootCmd.AddCommand(diagnoseKeychainCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// printError writes err and any user-facing hints to stderr.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	if debugMode || logging.IsDebugEnabled() {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
	}
}

// getDefaultConfigPath returns the default path for the configuration file.
func getDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "configs/norbert.yaml"
	}
	return filepath.Join(homeDir, ".config", "norbert", "norbert.yaml")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "norbert %s (commit %s, built %s)\n", Version, commitHash, buildDate)
		},
	}
}
