package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/onionfetch/internal/feed"
	"github.com/nao1215/onionfetch/internal/tor"
	"golang.org/x/sync/singleflight"
)

// torDirName is the overlay state directory created under Options.DataDir.
const torDirName = "tor"

// Options configures a Manager.
type Options struct {
	// DataDir is the root of the session's persistent state. The overlay
	// gets its own subdirectory, created with mode 0700.
	DataDir string

	// Builder constructs the overlay. Nil means tor.BuildEmbedded.
	Builder tor.Builder

	// ProxyAddress is passed to the overlay for external Tor proxies.
	ProxyAddress string

	// StartupTimeout bounds an embedded Tor daemon launch. Zero means the
	// overlay default.
	StartupTimeout time.Duration

	// BootstrapTimeout bounds one bootstrap execution. Zero means no limit.
	BootstrapTimeout time.Duration

	// ConnectTimeout bounds opening one stream. Zero means no limit.
	ConnectTimeout time.Duration

	// Logger receives session diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// handle boxes the overlay so it can live in an atomic.Pointer.
type handle struct {
	overlay tor.Overlay
}

// Manager mediates all access to the Tor overlay. It is safe for concurrent
// use; create one per process with New.
type Manager struct {
	opts    Options
	builder tor.Builder
	logger  *slog.Logger

	// ctx bounds background work and is cancelled by Close.
	ctx    context.Context //nolint:containedctx // lifetime of the manager
	cancel context.CancelFunc

	// current is written once by EnsureInitialized and read lock-free.
	current       atomic.Pointer[handle]
	bootstrapping atomic.Bool
	closed        atomic.Bool

	group singleflight.Group

	listenOnce sync.Once

	// subMu guards the subscriber set and the feed bookkeeping below.
	subMu      sync.Mutex
	subs       map[*Subscription]struct{}
	feedEnded  bool
	lastStatus *BootstrapStatus
}

// New returns a Manager in the Uninitialized state. It performs no I/O.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := opts.Builder
	if builder == nil {
		builder = tor.BuildEmbedded
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		builder: builder,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[*Subscription]struct{}),
	}
}

// EnsureInitialized builds the overlay if it does not exist yet.
//
// The overlay is configured to allow onion destinations and to bootstrap on
// demand; nothing touches the network here. Concurrent callers may each build
// an overlay, but only the first one stored is kept. The others are closed
// and their callers still see success.
func (m *Manager) EnsureInitialized(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.current.Load() != nil {
		return nil
	}

	if m.opts.DataDir == "" {
		return fmt.Errorf("%w: data directory is not set", ErrConfiguration)
	}
	torDir := filepath.Join(m.opts.DataDir, torDirName)
	if err := os.MkdirAll(torDir, 0o700); err != nil {
		return fmt.Errorf("%w: failed to create Tor state directory %s: %w", ErrConfiguration, torDir, err)
	}

	overlay, err := m.builder(tor.Settings{
		DataDir:         torDir,
		ProxyAddress:    m.opts.ProxyAddress,
		StartupTimeout:  m.opts.StartupTimeout,
		AllowOnionAddrs: true,
		Logger:          m.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to build Tor overlay: %w", ErrConfiguration, err)
	}

	if !m.current.CompareAndSwap(nil, &handle{overlay: overlay}) {
		m.logger.Debug("discarding overlay built by a losing initializer")
		if err := overlay.Close(); err != nil {
			m.logger.Warn("failed to close discarded overlay", "error", err)
		}
		return nil
	}

	// Close may have run between the closed check and the store.
	if m.closed.Load() {
		_ = overlay.Close() //nolint:errcheck // manager already closed
		return ErrClosed
	}

	m.logger.Debug("Tor overlay created", "dataDir", torDir)
	return nil
}

// Bootstrap initializes the overlay if needed and drives it to readiness.
//
// It returns nil at once when the overlay is already ready. Concurrent
// callers share a single underlying bootstrap; each caller stops waiting
// when its own ctx is done, but the shared bootstrap keeps running until it
// finishes, BootstrapTimeout expires, or the Manager is closed.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}
	overlay := m.overlay()
	if overlay.IsReady() {
		return nil
	}

	resultCh := m.group.DoChan("bootstrap", func() (any, error) {
		return nil, m.runBootstrap(overlay)
	})

	select {
	case result := <-resultCh:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runBootstrap(overlay tor.Overlay) error {
	if overlay.IsReady() {
		return nil
	}

	ctx := m.ctx
	if m.opts.BootstrapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.BootstrapTimeout)
		defer cancel()
	}

	m.bootstrapping.Store(true)
	defer m.bootstrapping.Store(false)

	m.logger.Info("bootstrapping Tor")
	start := time.Now()

	if err := overlay.Bootstrap(ctx); err != nil {
		if m.closed.Load() {
			return ErrClosed
		}
		m.logger.Warn("Tor bootstrap failed", "error", err, "elapsed", time.Since(start))
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	m.logger.Info("Tor bootstrap complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// IsReady reports whether streams can be opened. It never blocks and is
// false when the overlay has not been built.
func (m *Manager) IsReady() bool {
	if m.closed.Load() {
		return false
	}
	overlay := m.overlay()
	return overlay != nil && overlay.IsReady()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	switch {
	case m.closed.Load():
		return StateClosed
	case m.overlay() == nil:
		return StateUninitialized
	case m.overlay().IsReady():
		return StateReady
	case m.bootstrapping.Load():
		return StateBootstrapping
	default:
		return StateCreated
	}
}

// Connect opens a stream to host:port through the overlay.
//
// It fails with ErrNotReady without doing any I/O when the overlay is not
// ready; it never starts a bootstrap.
func (m *Manager) Connect(ctx context.Context, host string, port uint16) (io.ReadWriteCloser, error) {
	if !m.IsReady() {
		return nil, ErrNotReady
	}

	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	stream, err := m.overlay().Connect(ctx, host, port)
	if err != nil {
		if errors.Is(err, tor.ErrOverlayClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnect, host, port, err)
	}
	return stream, nil
}

// SubscribeBootstrapEvents returns a subscription to bootstrap progress.
//
// The first call initializes the overlay if needed and starts the single
// background listener that maps overlay phases to BootstrapStatus and fans
// them out. A subscriber first receives the most recent status, if any,
// then every status published after it subscribed, in order. Subscribing
// after the feed has ended yields that last status followed by a closed
// channel.
func (m *Manager) SubscribeBootstrapEvents(ctx context.Context) (*Subscription, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	sub := &Subscription{
		manager: m,
		queue:   feed.New[BootstrapStatus](),
	}

	m.subMu.Lock()
	if m.lastStatus != nil {
		sub.queue.Push(*m.lastStatus)
	}
	if m.feedEnded || m.closed.Load() {
		sub.queue.Close()
	} else {
		m.subs[sub] = struct{}{}
	}
	m.subMu.Unlock()

	overlay := m.overlay()
	m.listenOnce.Do(func() {
		go m.listen(overlay.BootstrapEvents())
	})

	return sub, nil
}

// listen republishes overlay phases until the overlay's feed closes.
func (m *Manager) listen(phases <-chan tor.BootstrapPhase) {
	m.logger.Debug("bootstrap listener started")

	for phase := range phases {
		status := statusFromPhase(phase)
		m.logger.Debug("bootstrap status",
			"progress", status.Progress,
			"tag", status.Tag,
			"description", status.Description,
		)

		m.subMu.Lock()
		m.lastStatus = &status
		for sub := range m.subs {
			sub.queue.Push(status)
		}
		m.subMu.Unlock()
	}

	m.subMu.Lock()
	m.feedEnded = true
	for sub := range m.subs {
		sub.queue.Close()
		delete(m.subs, sub)
	}
	m.subMu.Unlock()

	m.logger.Debug("bootstrap listener stopped")
}

func (m *Manager) unsubscribe(sub *Subscription) {
	m.subMu.Lock()
	delete(m.subs, sub)
	m.subMu.Unlock()
}

// Close tears down the overlay and ends all subscriptions. It is safe to
// call more than once.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()

	m.subMu.Lock()
	for sub := range m.subs {
		sub.queue.Close()
		delete(m.subs, sub)
	}
	m.subMu.Unlock()

	overlay := m.overlay()
	if overlay == nil {
		return nil
	}
	m.logger.Debug("closing Tor session")
	if err := overlay.Close(); err != nil {
		return fmt.Errorf("failed to close Tor overlay: %w", err)
	}
	return nil
}

func (m *Manager) overlay() tor.Overlay {
	h := m.current.Load()
	if h == nil {
		return nil
	}
	return h.overlay
}
