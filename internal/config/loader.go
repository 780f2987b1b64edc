package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".onionfetch"

// xdgConfigFile is the configuration file name inside XDGConfigDir.
const xdgConfigFile = "config.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the structure of the .onionfetch YAML file. Omitted keys leave
// the corresponding Config value untouched; durations set to 0 clear the
// limit.
type File struct {
	DataDir     string `yaml:"dataDir,omitempty"`
	DownloadDir string `yaml:"downloadDir,omitempty"`

	Tor      TorFile      `yaml:"tor,omitempty"`
	Transfer TransferFile `yaml:"transfer,omitempty"`
	Server   ServerFile   `yaml:"server,omitempty"`
	Log      LogFile      `yaml:"log,omitempty"`
}

// TorFile configures the Tor session.
type TorFile struct {
	// External selects an already running Tor daemon over the embedded one.
	External         *bool          `yaml:"external,omitempty"`
	ProxyAddress     string         `yaml:"proxyAddress,omitempty"`
	StartupTimeout   *time.Duration `yaml:"startupTimeout,omitempty"`
	BootstrapTimeout *time.Duration `yaml:"bootstrapTimeout,omitempty"`
	ConnectTimeout   *time.Duration `yaml:"connectTimeout,omitempty"`
}

// TransferFile configures retrievals.
type TransferFile struct {
	Timeout         *time.Duration `yaml:"timeout,omitempty"`
	UserAgent       string         `yaml:"userAgent,omitempty"`
	MaxBodySize     int64          `yaml:"maxBodySize,omitempty"`
	Concurrency     int            `yaml:"concurrency,omitempty"`
	StrictAddresses *bool          `yaml:"strictAddresses,omitempty"`
}

// ServerFile configures the local API.
type ServerFile struct {
	ListenAddress string `yaml:"listenAddress,omitempty"`
}

// LogFile configures logging.
type LogFile struct {
	File    string `yaml:"file,omitempty"`
	Verbose *bool  `yaml:"verbose,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// Apply copies every value set in f onto c.
func (f *File) Apply(c *Config) {
	setString(&c.DataDir, f.DataDir)
	setString(&c.DownloadDir, f.DownloadDir)

	if f.Tor.External != nil {
		c.UseExternalTor = *f.Tor.External
	}
	setString(&c.TorProxyAddress, f.Tor.ProxyAddress)
	setDuration(&c.TorStartupTimeout, f.Tor.StartupTimeout)
	setDuration(&c.BootstrapTimeout, f.Tor.BootstrapTimeout)
	setDuration(&c.ConnectTimeout, f.Tor.ConnectTimeout)

	setDuration(&c.TransferTimeout, f.Transfer.Timeout)
	setString(&c.UserAgent, f.Transfer.UserAgent)
	if f.Transfer.MaxBodySize != 0 {
		c.MaxBodySize = f.Transfer.MaxBodySize
	}
	if f.Transfer.Concurrency != 0 {
		c.Concurrency = f.Transfer.Concurrency
	}
	if f.Transfer.StrictAddresses != nil {
		c.StrictAddresses = *f.Transfer.StrictAddresses
	}

	setString(&c.ListenAddress, f.Server.ListenAddress)

	setString(&c.LogFile, f.Log.File)
	if f.Log.Verbose != nil {
		c.Verbose = *f.Log.Verbose
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .onionfetch in the current directory
// 3. Look for .onionfetch in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), xdgConfigFile))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load builds a Config from defaults and the configuration file found by
// FindConfigFile(configPath). An explicit configPath that does not exist
// is an error; a missing default file is not.
func Load(configPath string) (*Config, error) {
	cfg := NewConfig()

	path := FindConfigFile(configPath)
	if path == "" {
		if configPath != "" {
			return nil, ErrConfigNotFound
		}
		return cfg, nil
	}

	cf, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	cf.Apply(cfg)
	cfg.ConfigFilePath = path
	return cfg, nil
}
