package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for onionfetch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionfetch",
		Short: "Download files from Tor onion services",
		Long: `onionfetch downloads files from Tor onion services (.onion addresses).

Every request is routed through Tor and only plain http:// URLs on .onion
hosts are accepted, so nothing ever leaves the Tor network.

By default, onionfetch starts an embedded Tor daemon automatically.
Use --external-tor to use an existing Tor proxy instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .onionfetch in current or home directory)")
	cmd.PersistentFlags().String("data-dir", "",
		"Directory for Tor state and download history (default: XDG data directory)")
	cmd.PersistentFlags().String("log-file", "",
		"Also write logs to this file, rotated at 10 MB")

	// Add subcommands
	cmd.AddCommand(NewBootstrapCmd())
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
