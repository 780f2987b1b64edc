package tor

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultStartupTimeout is the maximum time to wait for an embedded Tor
// daemon to bootstrap. 3 minutes is typically sufficient for most network
// conditions, but may need to be increased for slow connections.
const DefaultStartupTimeout = 3 * time.Minute

// Overlay is the anonymizing transport consumed by the session layer.
// Implementations must be safe for concurrent use.
type Overlay interface {
	// Bootstrap brings the overlay to a state where it can carry traffic.
	// It returns nil immediately when the overlay is already ready.
	Bootstrap(ctx context.Context) error

	// BootstrapEvents returns the single feed of bootstrap phases.
	// Every call returns the same channel. It is closed once the overlay is
	// ready or closed.
	BootstrapEvents() <-chan BootstrapPhase

	// IsReady reports whether the overlay can carry traffic. It never blocks.
	IsReady() bool

	// Connect opens a new stream routed through Tor to host:port.
	Connect(ctx context.Context, host string, port uint16) (io.ReadWriteCloser, error)

	// Close tears the overlay down. It is safe to call more than once.
	Close() error
}

// BootstrapPhase is the native bootstrap status reported by an Overlay.
type BootstrapPhase struct {
	// Fraction is the completion ratio in the range [0, 1].
	Fraction float64

	// Phase is a short machine-readable tag such as "launching" or "done".
	Phase string

	// Summary is a human-readable description of the phase.
	Summary string
}

// Settings fixes the configuration of an overlay at construction time.
type Settings struct {
	// DataDir is the directory reserved for the overlay's cache and state.
	// The session layer creates it before building the overlay.
	DataDir string

	// ProxyAddress is the "host:port" of an existing Tor SOCKS5 proxy.
	// Only used by ExternalOverlay.
	ProxyAddress string

	// StartupTimeout bounds the embedded daemon launch.
	// Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration

	// AllowOnionAddrs permits .onion destinations in Connect.
	AllowOnionAddrs bool

	// Logger receives overlay diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

func (s Settings) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Builder constructs an Overlay from Settings without touching the network.
type Builder func(Settings) (Overlay, error)

// BuildEmbedded is a Builder for EmbeddedOverlay.
func BuildEmbedded(s Settings) (Overlay, error) {
	o, err := NewEmbeddedOverlay(s)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// BuildExternal is a Builder for ExternalOverlay.
func BuildExternal(s Settings) (Overlay, error) {
	o, err := NewExternalOverlay(s)
	if err != nil {
		return nil, err
	}
	return o, nil
}
