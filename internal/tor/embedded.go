package tor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nao1215/onionfetch/internal/feed"
	"github.com/nao1215/tornago"
)

// daemon is the part of *tornago.TorProcess the overlay relies on.
type daemon interface {
	SocksAddr() string
	DataDir() string
	Stop() error
}

// launcher starts a Tor daemon and blocks until it has bootstrapped.
type launcher func(s Settings) (daemon, error)

// launchTornago starts a private Tor daemon on OS-assigned ports. Tor keeps
// its cache and state in s.DataDir so later runs skip the full directory
// download; an empty DataDir leaves tornago to use a temporary one.
func launchTornago(s Settings) (daemon, error) {
	opts := []tornago.TorLaunchOption{
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(s.StartupTimeout),
		tornago.WithTorLogger(tornago.NewSlogAdapter(s.logger().With("component", "tornago"))),
	}
	if s.DataDir != "" {
		opts = append(opts, tornago.WithTorDataDir(s.DataDir))
	}

	launchCfg, err := tornago.NewTorLaunchConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return nil, err
	}
	return process, nil
}

// EmbeddedOverlay runs a private Tor daemon managed by tornago.
//
// The daemon is not started at construction. The first Bootstrap launches it,
// which typically takes 1-3 minutes while Tor downloads directory
// information and builds its first circuits.
type EmbeddedOverlay struct {
	settings Settings
	logger   *slog.Logger
	launch   launcher

	// events is the single bootstrap feed; closed once ready.
	events *feed.Queue[BootstrapPhase]

	// bootMu serializes Bootstrap calls.
	bootMu sync.Mutex

	// dialer is set once the daemon is up and verified. A non-nil dialer
	// means the overlay is ready.
	dialer atomic.Pointer[ProxyDialer]

	// stateMu guards daemon and closed.
	stateMu sync.Mutex
	daemon  daemon
	closed  bool
}

// NewEmbeddedOverlay fixes the overlay configuration without launching Tor.
func NewEmbeddedOverlay(s Settings) (*EmbeddedOverlay, error) {
	if s.StartupTimeout < 0 {
		return nil, fmt.Errorf("invalid Tor startup timeout: %v", s.StartupTimeout)
	}
	if s.StartupTimeout == 0 {
		s.StartupTimeout = DefaultStartupTimeout
	}

	return &EmbeddedOverlay{
		settings: s,
		logger:   s.logger(),
		launch:   launchTornago,
		events:   feed.New[BootstrapPhase](),
	}, nil
}

// Bootstrap launches the embedded daemon and verifies its SOCKS listener.
//
// If ctx is cancelled while the daemon is still starting, Bootstrap returns
// ctx.Err() right away and the daemon is stopped as soon as the launch
// returns. A failed bootstrap can be retried.
func (e *EmbeddedOverlay) Bootstrap(ctx context.Context) error {
	e.bootMu.Lock()
	defer e.bootMu.Unlock()

	if e.isClosed() {
		return ErrOverlayClosed
	}
	if e.IsReady() {
		return nil
	}

	e.events.Push(BootstrapPhase{Fraction: 0, Phase: "starting", Summary: "Preparing embedded Tor daemon"})
	e.events.Push(BootstrapPhase{Fraction: 0.1, Phase: "launching", Summary: "Launching Tor and building circuits"})

	e.logger.Info("starting embedded Tor daemon",
		"startupTimeout", e.settings.StartupTimeout,
		"dataDir", e.settings.DataDir,
	)

	type launchResult struct {
		d   daemon
		err error
	}
	resultCh := make(chan launchResult, 1)
	go func() {
		d, err := e.launch(e.settings)
		resultCh <- launchResult{d: d, err: err}
	}()

	var d daemon
	select {
	case result := <-resultCh:
		if result.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", result.err)
		}
		d = result.d
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.err == nil {
				e.stopDaemon(result.d)
			}
		}()
		return ctx.Err()
	}

	e.events.Push(BootstrapPhase{Fraction: 0.9, Phase: "verifying_socks", Summary: "Verifying SOCKS proxy"})

	dialer, err := NewProxyDialer(d.SocksAddr())
	if err != nil {
		e.stopDaemon(d)
		return fmt.Errorf("embedded Tor reported unusable SOCKS address %q: %w", d.SocksAddr(), err)
	}
	if status := dialer.CheckConnection(ctx); status != ProxyStatusOK {
		e.stopDaemon(d)
		return fmt.Errorf("embedded Tor proxy check failed: %w", status.Err())
	}

	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		e.stopDaemon(d)
		return ErrOverlayClosed
	}
	e.daemon = d
	e.dialer.Store(dialer)
	e.stateMu.Unlock()

	e.logger.Info("embedded Tor daemon started",
		"socksAddr", d.SocksAddr(),
		"torDataDir", d.DataDir(),
	)

	e.events.Push(BootstrapPhase{Fraction: 1, Phase: "done", Summary: "Done"})
	e.events.Close()
	return nil
}

// BootstrapEvents returns the bootstrap feed.
func (e *EmbeddedOverlay) BootstrapEvents() <-chan BootstrapPhase {
	return e.events.C()
}

// IsReady reports whether the daemon is running and verified.
func (e *EmbeddedOverlay) IsReady() bool {
	return e.dialer.Load() != nil
}

// Connect opens a stream to host:port through the embedded daemon.
func (e *EmbeddedOverlay) Connect(ctx context.Context, host string, port uint16) (io.ReadWriteCloser, error) {
	dialer := e.dialer.Load()
	if dialer == nil {
		if e.isClosed() {
			return nil, ErrOverlayClosed
		}
		return nil, ErrNotBootstrapped
	}
	return connectThrough(ctx, dialer, e.settings.AllowOnionAddrs, host, port)
}

// Close stops the daemon if it is running.
func (e *EmbeddedOverlay) Close() error {
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil
	}
	e.closed = true
	d := e.daemon
	e.daemon = nil
	e.dialer.Store(nil)
	e.stateMu.Unlock()

	e.events.Close()

	if d == nil {
		return nil
	}
	e.logger.Info("stopping embedded Tor daemon")
	return d.Stop()
}

func (e *EmbeddedOverlay) isClosed() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.closed
}

func (e *EmbeddedOverlay) stopDaemon(d daemon) {
	if err := d.Stop(); err != nil {
		e.logger.Error("failed to stop embedded Tor", "error", err)
	}
}
