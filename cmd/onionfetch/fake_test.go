package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/nao1215/onionfetch/internal/config"
	"github.com/nao1215/onionfetch/internal/feed"
	"github.com/nao1215/onionfetch/internal/log"
	"github.com/nao1215/onionfetch/internal/tor"
)

// fakeOverlay bootstraps instantly and serves bodies by host.
type fakeOverlay struct {
	events  *feed.Queue[tor.BootstrapPhase]
	bodies  map[string]string
	bootErr error

	ready  atomic.Bool
	closed atomic.Bool
}

func newFakeOverlay(bodies map[string]string) *fakeOverlay {
	return &fakeOverlay{events: feed.New[tor.BootstrapPhase](), bodies: bodies}
}

func (f *fakeOverlay) Bootstrap(context.Context) error {
	if f.ready.Load() {
		return nil
	}
	if f.bootErr != nil {
		return f.bootErr
	}
	f.events.Push(tor.BootstrapPhase{Fraction: 0.05, Phase: "conn", Summary: "Connecting to a relay"})
	f.events.Push(tor.BootstrapPhase{Fraction: 1, Phase: "done"})
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
	body, ok := f.bodies[host]
	if !ok {
		return nil, errors.New("host unreachable")
	}
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		if _, err := http.ReadRequest(bufio.NewReader(server)); err != nil {
			return
		}
		fmt.Fprintf(server, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	}()
	return client, nil
}

func (f *fakeOverlay) Close() error {
	if !f.closed.Swap(true) {
		f.events.Close()
	}
	return nil
}

// newTestApp builds an app over overlay with its state in a temp dir.
func newTestApp(t *testing.T, overlay *fakeOverlay) *app {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	a, err := newApp(cfg, log.Discard(), func(tor.Settings) (tor.Overlay, error) {
		return overlay, nil
	})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}
