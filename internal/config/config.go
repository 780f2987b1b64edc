package config

import (
	"net"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "onionfetch"

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	// Only used with an external Tor daemon.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to launch and bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultConnectTimeout bounds opening one stream through Tor. Onion
	// service rendezvous regularly takes tens of seconds.
	DefaultConnectTimeout = 2 * time.Minute

	// DefaultConcurrency is the number of simultaneous downloads in a batch.
	DefaultConcurrency = 2

	// DefaultListenAddress is the loopback address of the local API.
	DefaultListenAddress = "127.0.0.1:7878"

	// downloadDirName is the download directory under the data directory.
	downloadDirName = "downloads"
)

// Config holds all configuration options for onionfetch.
//
// Timeouts of zero mean no limit.
type Config struct {
	// DataDir holds the Tor state directory and the history database.
	// Defaults to the XDG data directory (~/.local/share/onionfetch on Linux).
	DataDir string

	// DownloadDir is where fetched files are written.
	// Empty means a "downloads" directory under DataDir.
	DownloadDir string

	// UseExternalTor disables the embedded Tor daemon and uses the SOCKS5
	// proxy at TorProxyAddress instead.
	UseExternalTor bool

	// TorProxyAddress is the "host:port" of an external Tor SOCKS5 proxy.
	TorProxyAddress string

	// TorStartupTimeout bounds the embedded Tor daemon launch.
	TorStartupTimeout time.Duration

	// BootstrapTimeout bounds one bootstrap of the Tor session.
	BootstrapTimeout time.Duration

	// ConnectTimeout bounds opening one stream to an onion service.
	ConnectTimeout time.Duration

	// TransferTimeout bounds one complete retrieval, connect included.
	TransferTimeout time.Duration

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// MaxBodySize caps response bodies in bytes. Zero means unlimited.
	MaxBodySize int64

	// Concurrency is the number of simultaneous downloads in a batch.
	Concurrency int

	// StrictAddresses accepts only checksum-valid v3 onion addresses.
	StrictAddresses bool

	// ListenAddress is the "host:port" the local API binds to.
	ListenAddress string

	// LogFile additionally writes logs to a rotating file when non-empty.
	LogFile string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the configuration file that was loaded, if any.
	ConfigFilePath string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		DataDir:           XDGDataDir(),
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		Concurrency:       DefaultConcurrency,
		ListenAddress:     DefaultListenAddress,
	}
}

// DownloadPath returns DownloadDir, or its default under DataDir.
func (c *Config) DownloadPath() string {
	if c.DownloadDir != "" {
		return c.DownloadDir
	}
	return filepath.Join(c.DataDir, downloadDirName)
}

// XDGDataDir returns the XDG data directory for onionfetch.
// On Linux: ~/.local/share/onionfetch
// On macOS: ~/Library/Application Support/onionfetch
// On Windows: %LOCALAPPDATA%\onionfetch
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionfetch.
// On Linux: ~/.config/onionfetch
// On macOS: ~/Library/Application Support/onionfetch
// On Windows: %APPDATA%\onionfetch
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGStateDir returns the XDG state directory for onionfetch, the default
// home of the log file.
// On Linux: ~/.local/state/onionfetch
func XDGStateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrInvalidDataDir
	}

	for _, d := range []time.Duration{
		c.TorStartupTimeout,
		c.BootstrapTimeout,
		c.ConnectTimeout,
		c.TransferTimeout,
	} {
		if d < 0 {
			return ErrInvalidTimeout
		}
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if c.UseExternalTor && !isHostPort(c.TorProxyAddress) {
		return ErrInvalidProxyAddress
	}

	if c.ListenAddress != "" && !isHostPort(c.ListenAddress) {
		return ErrInvalidListenAddress
	}

	return nil
}

func isHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	return err == nil && host != "" && port != ""
}
