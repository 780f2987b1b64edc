package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/download"
	"github.com/nao1215/onionfetch/internal/transfer"
	"github.com/spf13/cobra"
)

// progressStep is how often, in bytes, a running download is reported.
const progressStep = 1 << 20

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Download files from onion services",
		Long: `Fetch downloads one or more files from Tor onion services.

Only http:// URLs on .onion hosts are accepted. Onion services are
end-to-end encrypted by Tor, so https is neither needed nor allowed.
Files are written to the download directory and every attempt is recorded
in the download history.

Examples:
  # Download a single file
  onionfetch fetch http://exampleonion.onion/maps/berlin.pmtiles

  # Save under a different name
  onionfetch fetch -n 42.pmtiles http://exampleonion.onion/maps/berlin.pmtiles

  # Download several files, three at a time, into ./maps
  onionfetch fetch -b 3 -d ./maps http://a.onion/x.pmtiles http://b.onion/y.pmtiles

  # Use external Tor proxy instead of embedded daemon
  onionfetch fetch --external-tor 127.0.0.1:9150 http://exampleonion.onion/file`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetchCmd,
	}

	addTorFlags(cmd)

	cmd.Flags().StringP("output-dir", "d", "",
		"Directory to write files to (default: downloads under the data directory)")
	cmd.Flags().StringP("name", "n", "",
		"File name to save as (only with a single URL)")
	cmd.Flags().DurationP("timeout", "t", 0,
		"Timeout for each download (0 means no limit)")
	cmd.Flags().StringP("user-agent", "u", "",
		"User-Agent header to send (default: none)")
	cmd.Flags().Int64("max-size", 0,
		"Largest accepted file in bytes (0 means unlimited)")
	cmd.Flags().IntP("concurrency", "b", 2,
		"Number of simultaneous downloads")
	cmd.Flags().Bool("strict", false,
		"Accept only checksum-valid v3 onion addresses")
	cmd.Flags().BoolP("quiet", "q", false,
		"Do not print bootstrap and download progress")
	cmd.Flags().Bool("skip-existing", false,
		"Skip URLs whose last successful download is still intact on disk")

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}
	if name != "" && len(args) > 1 {
		return errors.New("--name can only be used with a single URL")
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	skipExisting, err := cmd.Flags().GetBool("skip-existing")
	if err != nil {
		return err
	}

	ctx, a, cleanup, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	reqs := make([]download.Request, len(args))
	for i, arg := range args {
		reqs[i] = download.Request{URL: arg, Name: name}
	}

	// Reject bad URLs before spending minutes on a bootstrap.
	for _, req := range reqs {
		if _, err := a.downloader.Destination(req); err != nil {
			return fmt.Errorf("%s: %w", req.URL, err)
		}
	}

	if skipExisting {
		if reqs, err = skipDownloaded(ctx, a.downloader, a.history, reqs, cmd.OutOrStdout()); err != nil {
			return err
		}
		if len(reqs) == 0 {
			return nil
		}
	}

	progress := cmd.ErrOrStderr()
	if quiet {
		progress = io.Discard
	}

	if err := runBootstrap(ctx, a.session, progress); err != nil {
		return err
	}
	return runFetch(ctx, a.downloader, reqs, cmd.OutOrStdout(), progress)
}

// runFetch downloads reqs, reports running progress to progress and one
// result line per request to out.
func runFetch(ctx context.Context, d *download.Downloader, reqs []download.Request, out, progress io.Writer) error {
	printer := &progressPrinter{out: progress}

	outcomes, err := d.DownloadAll(ctx, reqs, printer.sinkFor)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(out, "FAILED  %s: %v\n", o.Request.URL, o.Err)
			continue
		}
		fmt.Fprintf(out, "OK      %s (%s, sha256 %s)\n",
			o.Record.Path,
			humanize.Bytes(uint64(max(o.Record.Bytes, 0))),
			o.Record.SHA256,
		)
	}

	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d download(s) failed", failed, len(reqs))
	}
	return nil
}

// skipDownloaded drops the requests whose latest successful download is
// still on disk at the same destination with the recorded checksum.
func skipDownloaded(ctx context.Context, d *download.Downloader, history *database.HistoryDB, reqs []download.Request, out io.Writer) ([]download.Request, error) {
	pending := make([]download.Request, 0, len(reqs))
	for _, req := range reqs {
		dest, err := d.Destination(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.URL, err)
		}
		record, err := history.LatestSuccessfulDownload(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		if record != nil && record.SHA256 != "" && record.Path == dest && fileDigest(dest) == record.SHA256 {
			fmt.Fprintf(out, "SKIPPED %s (downloaded %s)\n", dest, humanize.Time(record.FinishedAt))
			continue
		}
		pending = append(pending, req)
	}
	return pending, nil
}

// fileDigest returns the hex sha256 of the file at path, or "" if it cannot
// be read.
func fileDigest(path string) string {
	f, err := os.Open(path) //nolint:gosec // path comes from the download history
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// progressPrinter reports download progress as plain lines, safe for
// concurrent downloads.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

// sinkFor implements download.SinkFunc.
func (p *progressPrinter) sinkFor(_ int, req download.Request) transfer.ProgressSink {
	label := displayName(req)
	var received int64
	return transfer.ProgressFunc(func(e transfer.ProgressEvent) {
		switch e.Kind {
		case transfer.EventProgress:
			before := received / progressStep
			received += int64(e.ChunkLength)
			if received/progressStep > before {
				p.printf("%s: %s received\n", label, humanize.IBytes(uint64(received)))
			}
		case transfer.EventFinished:
			p.printf("%s: done, %s\n", label, humanize.IBytes(uint64(received)))
		}
	})
}

func (p *progressPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// displayName is a short label for req in progress output.
func displayName(req download.Request) string {
	if req.Name != "" {
		return req.Name
	}
	if u, err := url.Parse(req.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
		return u.Host
	}
	return req.URL
}
