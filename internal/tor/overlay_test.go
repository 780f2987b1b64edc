package tor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDaemon struct {
	socksAddr string
	stops     atomic.Int32
}

func (f *fakeDaemon) SocksAddr() string { return f.socksAddr }
func (f *fakeDaemon) DataDir() string   { return "" }
func (f *fakeDaemon) Stop() error {
	f.stops.Add(1)
	return nil
}

func echoHandler(_ string, _ uint16, conn net.Conn) {
	defer conn.Close()
	_, _ = io.Copy(conn, conn)
}

func drainPhases(t *testing.T, ch <-chan BootstrapPhase) []BootstrapPhase {
	t.Helper()

	var phases []BootstrapPhase
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return phases
			}
			phases = append(phases, p)
		case <-timeout:
			t.Fatal("timed out waiting for bootstrap feed to close")
			return nil
		}
	}
}

func newTestEmbedded(t *testing.T, launch launcher) *EmbeddedOverlay {
	t.Helper()

	o, err := NewEmbeddedOverlay(Settings{AllowOnionAddrs: true})
	if err != nil {
		t.Fatalf("NewEmbeddedOverlay() error = %v", err)
	}
	o.launch = launch
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestNewEmbeddedOverlay(t *testing.T) {
	t.Parallel()

	t.Run("applies default startup timeout", func(t *testing.T) {
		t.Parallel()

		o, err := NewEmbeddedOverlay(Settings{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.settings.StartupTimeout != DefaultStartupTimeout {
			t.Errorf("StartupTimeout = %v, expected %v", o.settings.StartupTimeout, DefaultStartupTimeout)
		}
		if o.IsReady() {
			t.Error("expected overlay not to be ready before Bootstrap")
		}
	})

	t.Run("rejects negative startup timeout", func(t *testing.T) {
		t.Parallel()

		if _, err := NewEmbeddedOverlay(Settings{StartupTimeout: -time.Second}); err == nil {
			t.Error("expected error for negative startup timeout")
		}
	})
}

func TestEmbeddedOverlay_Bootstrap(t *testing.T) {
	t.Parallel()

	t.Run("publishes phases and becomes ready", func(t *testing.T) {
		t.Parallel()

		d := &fakeDaemon{socksAddr: startSOCKSServer(t, echoHandler)}
		o := newTestEmbedded(t, func(Settings) (daemon, error) { return d, nil })

		if err := o.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if !o.IsReady() {
			t.Fatal("expected overlay to be ready")
		}

		phases := drainPhases(t, o.BootstrapEvents())
		expected := []string{"starting", "launching", "verifying_socks", "done"}
		if len(phases) != len(expected) {
			t.Fatalf("got %d phases, expected %d: %+v", len(phases), len(expected), phases)
		}
		for i, p := range phases {
			if p.Phase != expected[i] {
				t.Errorf("phase[%d] = %q, expected %q", i, p.Phase, expected[i])
			}
		}
		if phases[len(phases)-1].Fraction != 1 {
			t.Errorf("final fraction = %v, expected 1", phases[len(phases)-1].Fraction)
		}

		// A second bootstrap is a no-op.
		if err := o.Bootstrap(context.Background()); err != nil {
			t.Errorf("second Bootstrap() error = %v", err)
		}
	})

	t.Run("launches Tor in the configured data dir", func(t *testing.T) {
		t.Parallel()

		dataDir := t.TempDir()
		logger := slog.New(slog.DiscardHandler)
		o, err := NewEmbeddedOverlay(Settings{DataDir: dataDir, StartupTimeout: time.Minute, Logger: logger})
		if err != nil {
			t.Fatalf("NewEmbeddedOverlay() error = %v", err)
		}
		t.Cleanup(func() { _ = o.Close() })

		d := &fakeDaemon{socksAddr: startSOCKSServer(t, echoHandler)}
		var got Settings
		o.launch = func(s Settings) (daemon, error) {
			got = s
			return d, nil
		}

		if err := o.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if got.DataDir != dataDir {
			t.Errorf("launcher DataDir = %q, expected %q", got.DataDir, dataDir)
		}
		if got.StartupTimeout != time.Minute {
			t.Errorf("launcher StartupTimeout = %v, expected %v", got.StartupTimeout, time.Minute)
		}
		if got.logger() != logger {
			t.Error("launcher did not receive the overlay logger")
		}
	})

	t.Run("launch failure leaves overlay retryable", func(t *testing.T) {
		t.Parallel()

		d := &fakeDaemon{socksAddr: startSOCKSServer(t, echoHandler)}
		var calls atomic.Int32
		o := newTestEmbedded(t, func(Settings) (daemon, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("tor binary not found")
			}
			return d, nil
		})

		if err := o.Bootstrap(context.Background()); err == nil {
			t.Fatal("expected first Bootstrap to fail")
		}
		if o.IsReady() {
			t.Fatal("expected overlay not to be ready after failure")
		}
		if err := o.Bootstrap(context.Background()); err != nil {
			t.Fatalf("retry Bootstrap() error = %v", err)
		}
		if !o.IsReady() {
			t.Error("expected overlay to be ready after retry")
		}
	})

	t.Run("stops daemon when SOCKS check fails", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		addr := listener.Addr().String()
		listener.Close()

		d := &fakeDaemon{socksAddr: addr}
		o := newTestEmbedded(t, func(Settings) (daemon, error) { return d, nil })

		err = o.Bootstrap(context.Background())
		if !errors.Is(err, ErrProxyCannotConnect) {
			t.Fatalf("expected ErrProxyCannotConnect, got %v", err)
		}
		if d.stops.Load() != 1 {
			t.Errorf("daemon stopped %d times, expected 1", d.stops.Load())
		}
	})

	t.Run("cancellation abandons launch and stops daemon later", func(t *testing.T) {
		t.Parallel()

		d := &fakeDaemon{socksAddr: startSOCKSServer(t, echoHandler)}
		release := make(chan struct{})
		o := newTestEmbedded(t, func(Settings) (daemon, error) {
			<-release
			return d, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- o.Bootstrap(ctx) }()

		cancel()
		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Bootstrap did not return after cancellation")
		}

		close(release)
		deadline := time.Now().Add(5 * time.Second)
		for d.stops.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if d.stops.Load() != 1 {
			t.Errorf("daemon stopped %d times, expected 1", d.stops.Load())
		}
		if o.IsReady() {
			t.Error("expected overlay not to be ready")
		}
	})
}

func TestEmbeddedOverlay_Close(t *testing.T) {
	t.Parallel()

	d := &fakeDaemon{socksAddr: startSOCKSServer(t, echoHandler)}
	o := newTestEmbedded(t, func(Settings) (daemon, error) { return d, nil })

	if err := o.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if d.stops.Load() != 1 {
		t.Errorf("daemon stopped %d times, expected 1", d.stops.Load())
	}
	if o.IsReady() {
		t.Error("expected closed overlay not to be ready")
	}
	if _, err := o.Connect(context.Background(), testOnionV3Addr1, 80); !errors.Is(err, ErrOverlayClosed) {
		t.Errorf("Connect() error = %v, expected ErrOverlayClosed", err)
	}
	if err := o.Bootstrap(context.Background()); !errors.Is(err, ErrOverlayClosed) {
		t.Errorf("Bootstrap() error = %v, expected ErrOverlayClosed", err)
	}
}

func TestExternalOverlay(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid proxy address", func(t *testing.T) {
		t.Parallel()

		_, err := NewExternalOverlay(Settings{ProxyAddress: "localhost"})
		if !errors.Is(err, ErrInvalidProxyAddress) {
			t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
		}
	})

	t.Run("connect before bootstrap", func(t *testing.T) {
		t.Parallel()

		o, err := NewExternalOverlay(Settings{ProxyAddress: "127.0.0.1:9050", AllowOnionAddrs: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := o.Connect(context.Background(), testOnionV3Addr1, 80); !errors.Is(err, ErrNotBootstrapped) {
			t.Errorf("expected ErrNotBootstrapped, got %v", err)
		}
	})

	t.Run("bootstrap and tunnel a stream", func(t *testing.T) {
		t.Parallel()

		addr := startSOCKSServer(t, echoHandler)
		o, err := NewExternalOverlay(Settings{ProxyAddress: addr, AllowOnionAddrs: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer o.Close()

		if err := o.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if !o.IsReady() {
			t.Fatal("expected overlay to be ready")
		}

		phases := drainPhases(t, o.BootstrapEvents())
		if len(phases) != 2 || phases[0].Phase != "handshake" || phases[1].Phase != "done" {
			t.Errorf("unexpected phases: %+v", phases)
		}

		stream, err := o.Connect(context.Background(), testOnionV3Addr1, 80)
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer stream.Close()

		if _, err := stream.Write([]byte("ping")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(stream, buf); err != nil {
			t.Fatalf("ReadFull() error = %v", err)
		}
		if string(buf) != "ping" {
			t.Errorf("got %q, expected %q", buf, "ping")
		}
	})

	t.Run("onion destinations filtered unless allowed", func(t *testing.T) {
		t.Parallel()

		addr := startSOCKSServer(t, echoHandler)
		o, err := NewExternalOverlay(Settings{ProxyAddress: addr})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer o.Close()

		if err := o.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if _, err := o.Connect(context.Background(), testOnionV3Addr1, 80); !errors.Is(err, ErrAddressFiltered) {
			t.Errorf("expected ErrAddressFiltered, got %v", err)
		}
	})

	t.Run("bootstrap fails when proxy is down", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		addr := listener.Addr().String()
		listener.Close()

		o, err := NewExternalOverlay(Settings{ProxyAddress: addr})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := o.Bootstrap(context.Background()); !errors.Is(err, ErrProxyCannotConnect) {
			t.Errorf("expected ErrProxyCannotConnect, got %v", err)
		}
		if o.IsReady() {
			t.Error("expected overlay not to be ready")
		}
	})
}
