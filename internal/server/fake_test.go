package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/download"
	"github.com/nao1215/onionfetch/internal/feed"
	"github.com/nao1215/onionfetch/internal/session"
	"github.com/nao1215/onionfetch/internal/tor"
	"github.com/nao1215/onionfetch/internal/transfer"
)

// fakeOverlay bootstraps instantly and serves every .onion host with body.
type fakeOverlay struct {
	events  *feed.Queue[tor.BootstrapPhase]
	phases  []tor.BootstrapPhase
	bootErr error
	body    string

	// hold, when non-nil, blocks Bootstrap until closed.
	hold chan struct{}

	ready  atomic.Bool
	closed atomic.Bool
}

func newFakeOverlay(body string) *fakeOverlay {
	return &fakeOverlay{
		events: feed.New[tor.BootstrapPhase](),
		phases: []tor.BootstrapPhase{
			{Fraction: 0.10, Phase: "conn", Summary: "Connecting to a relay"},
			{Fraction: 0.55, Phase: "loading_descriptors", Summary: "Loading relay descriptors"},
			{Fraction: 1, Phase: "done", Summary: "Done"},
		},
		body: body,
	}
}

func (f *fakeOverlay) Bootstrap(ctx context.Context) error {
	if f.ready.Load() {
		return nil
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.bootErr != nil {
		return f.bootErr
	}
	for _, p := range f.phases {
		f.events.Push(p)
	}
	f.ready.Store(true)
	f.events.Close()
	return nil
}

func (f *fakeOverlay) BootstrapEvents() <-chan tor.BootstrapPhase {
	return f.events.C()
}

func (f *fakeOverlay) IsReady() bool {
	return f.ready.Load() && !f.closed.Load()
}

func (f *fakeOverlay) Connect(_ context.Context, host string, _ uint16) (io.ReadWriteCloser, error) {
	if host == "unreachable.onion" {
		return nil, errors.New("host unreachable")
	}
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		if _, err := http.ReadRequest(bufio.NewReader(server)); err != nil {
			return
		}
		fmt.Fprintf(server, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(f.body), f.body)
	}()
	return client, nil
}

func (f *fakeOverlay) Close() error {
	if !f.closed.Swap(true) {
		f.events.Close()
	}
	return nil
}

// fakeHistory is an in-memory History.
type fakeHistory struct {
	records []*database.DownloadRecord
	err     error
}

func (f *fakeHistory) GetDownload(_ context.Context, id string) (*database.DownloadRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) ListDownloads(_ context.Context, limit int) ([]*database.DownloadRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[:min(limit, len(f.records))], nil
}

func (f *fakeHistory) ListDownloadsByHost(_ context.Context, host string) ([]*database.DownloadRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*database.DownloadRecord
	for _, r := range f.records {
		if r.Host == host {
			out = append(out, r)
		}
	}
	return out, nil
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer wires a Server to a session backed by overlay.
func newTestServer(t *testing.T, overlay *fakeOverlay, opts ...Option) (*Server, *session.Manager, string) {
	t.Helper()

	mgr := session.New(session.Options{
		DataDir: t.TempDir(),
		Builder: func(tor.Settings) (tor.Overlay, error) { return overlay, nil },
		Logger:  discardLogger,
	})
	t.Cleanup(func() { _ = mgr.Close() })

	dir := t.TempDir()
	dl := download.NewDownloader(transfer.NewClient(), mgr, dir, download.WithLogger(discardLogger))

	opts = append([]Option{WithLogger(discardLogger)}, opts...)
	return New(mgr, dl, opts...), mgr, dir
}
