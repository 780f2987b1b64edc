package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nao1215/onionfetch/internal/feed"
	"github.com/nao1215/onionfetch/internal/tor"
)

// fakeOverlay is an in-memory tor.Overlay.
type fakeOverlay struct {
	events *feed.Queue[tor.BootstrapPhase]

	// phases are published by each Bootstrap call.
	phases []tor.BootstrapPhase
	// release, when non-nil, holds Bootstrap until it is closed.
	release chan struct{}

	mu      sync.Mutex
	bootErr error

	bootstrapCalls atomic.Int32
	connectCalls   atomic.Int32
	feedCalls      atomic.Int32
	ready          atomic.Bool
	closed         atomic.Bool
}

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{events: feed.New[tor.BootstrapPhase]()}
}

func (f *fakeOverlay) setBootstrapError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootErr = err
}

func (f *fakeOverlay) Bootstrap(ctx context.Context) error {
	f.bootstrapCalls.Add(1)
	for _, p := range f.phases {
		f.events.Push(p)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.bootErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.ready.Store(true)
	f.events.Close()
	return nil
}

func (f *fakeOverlay) BootstrapEvents() <-chan tor.BootstrapPhase {
	f.feedCalls.Add(1)
	return f.events.C()
}

func (f *fakeOverlay) IsReady() bool {
	return f.ready.Load() && !f.closed.Load()
}

func (f *fakeOverlay) Connect(_ context.Context, host string, _ uint16) (io.ReadWriteCloser, error) {
	f.connectCalls.Add(1)
	if host == "unreachable.onion" {
		return nil, errors.New("host unreachable")
	}
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		_, _ = io.Copy(server, server)
	}()
	return client, nil
}

func (f *fakeOverlay) Close() error {
	if !f.closed.Swap(true) {
		f.events.Close()
	}
	return nil
}

// fakeBuilder returns a tor.Builder that always yields overlay and records
// the settings it was called with.
func fakeBuilder(overlay *fakeOverlay, got *tor.Settings) tor.Builder {
	return func(s tor.Settings) (tor.Overlay, error) {
		if got != nil {
			*got = s
		}
		return overlay, nil
	}
}
