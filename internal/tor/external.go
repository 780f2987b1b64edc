package tor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nao1215/onionfetch/internal/feed"
)

// ExternalOverlay routes streams through a Tor SOCKS5 proxy that someone
// else runs. Bootstrapping only verifies that the proxy speaks SOCKS5 the
// way Tor does.
type ExternalOverlay struct {
	settings Settings
	logger   *slog.Logger
	dialer   *ProxyDialer
	events   *feed.Queue[BootstrapPhase]

	bootMu sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// NewExternalOverlay validates the proxy address. It does not connect.
func NewExternalOverlay(s Settings) (*ExternalOverlay, error) {
	dialer, err := NewProxyDialer(s.ProxyAddress)
	if err != nil {
		return nil, err
	}

	return &ExternalOverlay{
		settings: s,
		logger:   s.logger(),
		dialer:   dialer,
		events:   feed.New[BootstrapPhase](),
	}, nil
}

// Bootstrap performs the SOCKS5 handshake check against the proxy.
func (x *ExternalOverlay) Bootstrap(ctx context.Context) error {
	x.bootMu.Lock()
	defer x.bootMu.Unlock()

	if x.closed.Load() {
		return ErrOverlayClosed
	}
	if x.ready.Load() {
		return nil
	}

	x.events.Push(BootstrapPhase{Fraction: 0.5, Phase: "handshake", Summary: "Checking Tor SOCKS proxy"})

	if status := x.dialer.CheckConnection(ctx); status != ProxyStatusOK {
		return fmt.Errorf("tor proxy check failed at %s: %w", x.dialer.ProxyAddress(), status.Err())
	}

	x.logger.Info("Tor proxy connection verified", "address", x.dialer.ProxyAddress())

	x.ready.Store(true)
	x.events.Push(BootstrapPhase{Fraction: 1, Phase: "done", Summary: "Done"})
	x.events.Close()
	return nil
}

// BootstrapEvents returns the bootstrap feed.
func (x *ExternalOverlay) BootstrapEvents() <-chan BootstrapPhase {
	return x.events.C()
}

// IsReady reports whether the proxy check has succeeded.
func (x *ExternalOverlay) IsReady() bool {
	return x.ready.Load() && !x.closed.Load()
}

// Connect opens a stream to host:port through the proxy.
func (x *ExternalOverlay) Connect(ctx context.Context, host string, port uint16) (io.ReadWriteCloser, error) {
	if x.closed.Load() {
		return nil, ErrOverlayClosed
	}
	if !x.ready.Load() {
		return nil, ErrNotBootstrapped
	}
	return connectThrough(ctx, x.dialer, x.settings.AllowOnionAddrs, host, port)
}

// Close marks the overlay closed. The proxy itself is left running.
func (x *ExternalOverlay) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	x.events.Close()
	return nil
}
