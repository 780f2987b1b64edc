package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nao1215/onionfetch/internal/session"
	"github.com/spf13/cobra"
)

// feedDrainTimeout bounds how long a finished bootstrap waits for the
// remaining progress lines.
const feedDrainTimeout = 2 * time.Second

// NewBootstrapCmd creates the bootstrap command.
func NewBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Connect to the Tor network and report progress",
		Long: `Bootstrap starts Tor and connects to the Tor network, printing progress
until the session is ready. It is a quick way to check that onionfetch can
reach the Tor network from this machine.

Examples:
  # Bootstrap the embedded Tor daemon
  onionfetch bootstrap

  # Check an existing Tor Browser instance
  onionfetch bootstrap --external-tor 127.0.0.1:9150`,
		Args: cobra.NoArgs,
		RunE: runBootstrapCmd,
	}

	addTorFlags(cmd)

	return cmd
}

// runBootstrapCmd executes the bootstrap command.
func runBootstrapCmd(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return runBootstrap(ctx, a.session, cmd.OutOrStdout())
}

// runBootstrap drives sess to readiness, printing each status to out.
func runBootstrap(ctx context.Context, sess *session.Manager, out io.Writer) error {
	if sess.IsReady() {
		fmt.Fprintln(out, "Tor is already connected")
		return nil
	}

	sub, err := sess.SubscribeBootstrapEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to start Tor: %w", err)
	}
	defer sub.Close()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for status := range sub.C() {
			fmt.Fprintf(out, "[%3d%%] %s\n", status.Progress, status.Description)
			if status.Done() {
				return
			}
		}
	}()

	start := time.Now()
	if err := sess.Bootstrap(ctx); err != nil {
		sub.Close()
		<-printed
		return fmt.Errorf("failed to connect to Tor: %w", err)
	}

	select {
	case <-printed:
	case <-time.After(feedDrainTimeout):
		sub.Close()
		<-printed
	}

	fmt.Fprintf(out, "Connected to Tor in %s\n", time.Since(start).Round(100*time.Millisecond))
	return nil
}
