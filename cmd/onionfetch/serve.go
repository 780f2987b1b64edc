package main

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/nao1215/onionfetch/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the Tor session and downloads to local applications",
		Long: `Serve starts a local HTTP and WebSocket API so that other applications on
this machine can bootstrap Tor, watch its progress, and download files
from onion services through onionfetch.

Endpoints:
  GET  /api/tor/ready       {"ready": bool}
  POST /api/tor/bootstrap   {"alreadyReady": bool}
  GET  /api/tor/events      WebSocket: bootstrap progress
  GET  /api/downloads       WebSocket: download ?url=...&name=... with progress
  GET  /api/history         recorded downloads (?limit=N or ?host=H)
  GET  /api/history/:id     one recorded download

The API has no authentication. Keep it on a loopback address.

Examples:
  # Serve on the default address
  onionfetch serve

  # Serve on another port and connect to Tor right away
  onionfetch serve --listen 127.0.0.1:9000 --bootstrap`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	addTorFlags(cmd)

	cmd.Flags().StringP("listen", "l", "",
		"Address to listen on (default: 127.0.0.1:7878)")
	cmd.Flags().StringP("output-dir", "d", "",
		"Directory to write files to (default: downloads under the data directory)")
	cmd.Flags().Bool("bootstrap", false,
		"Connect to Tor at startup instead of on the first request")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	eager, err := cmd.Flags().GetBool("bootstrap")
	if err != nil {
		return err
	}

	ctx, a, cleanup, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.ListenAddress, err)
	}

	return runServe(ctx, a, ln, eager, cmd.OutOrStdout())
}

// runServe serves the API on ln until ctx is done.
func runServe(ctx context.Context, a *app, ln net.Listener, eager bool, out io.Writer) error {
	srv := server.New(a.session, a.downloader,
		server.WithHistory(a.history),
		server.WithLogger(a.logger),
	)

	if eager {
		go func() {
			if err := a.session.Bootstrap(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("Tor bootstrap failed", "error", err)
			}
		}()
	}

	fmt.Fprintf(out, "onionfetch API listening on http://%s\n", ln.Addr())
	fmt.Fprintf(out, "Downloads are saved to %s\n", a.downloader.Dir())
	return srv.Serve(ctx, ln)
}
