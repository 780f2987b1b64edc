package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/onionfetch/internal/config"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/download"
	"github.com/nao1215/onionfetch/internal/log"
	"github.com/nao1215/onionfetch/internal/session"
	"github.com/nao1215/onionfetch/internal/tor"
	"github.com/nao1215/onionfetch/internal/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app holds the components shared by the commands that talk to Tor.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	session    *session.Manager
	history    *database.HistoryDB
	client     *transfer.Client
	downloader *download.Downloader
}

// overlayBuilder selects the Tor overlay for cfg.
func overlayBuilder(cfg *config.Config) tor.Builder {
	if cfg.UseExternalTor {
		return tor.BuildExternal
	}
	return tor.BuildEmbedded
}

// newApp opens the history database and wires the session, transfer client
// and downloader. Nothing touches the network until a command bootstraps.
func newApp(cfg *config.Config, logger *slog.Logger, builder tor.Builder) (*app, error) {
	history, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	mgr := session.New(session.Options{
		DataDir:          cfg.DataDir,
		Builder:          builder,
		ProxyAddress:     cfg.TorProxyAddress,
		StartupTimeout:   cfg.TorStartupTimeout,
		BootstrapTimeout: cfg.BootstrapTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
		Logger:           logger,
	})

	client := transfer.NewClient(
		transfer.WithStrictAddresses(cfg.StrictAddresses),
		transfer.WithMaxBodySize(cfg.MaxBodySize),
		transfer.WithUserAgent(cfg.UserAgent),
		transfer.WithTimeout(cfg.TransferTimeout),
		transfer.WithLogger(logger),
	)

	downloader := download.NewDownloader(client, mgr, cfg.DownloadPath(),
		download.WithStore(history),
		download.WithConcurrency(cfg.Concurrency),
		download.WithLogger(logger),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		session:    mgr,
		history:    history,
		client:     client,
		downloader: downloader,
	}, nil
}

// Close stops Tor and closes the database.
func (a *app) Close() error {
	return errors.Join(a.session.Close(), a.history.Close())
}

// loadConfig builds the configuration for cmd: defaults, then the config
// file, then every flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags onto cfg. Flags a command does
// not define are skipped.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var errs []error
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	str := func(name string, dst *string) {
		if changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("data-dir", &cfg.DataDir)
	str("log-file", &cfg.LogFile)
	boolean("verbose", &cfg.Verbose)

	if changed("external-tor") {
		v, err := flags.GetString("external-tor")
		errs = append(errs, err)
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = v
	}
	for name, dst := range map[string]*time.Duration{
		"tor-timeout":       &cfg.TorStartupTimeout,
		"bootstrap-timeout": &cfg.BootstrapTimeout,
		"connect-timeout":   &cfg.ConnectTimeout,
		"timeout":           &cfg.TransferTimeout,
	} {
		if changed(name) {
			v, err := flags.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("output-dir", &cfg.DownloadDir)
	str("user-agent", &cfg.UserAgent)
	if changed("max-size") {
		v, err := flags.GetInt64("max-size")
		errs = append(errs, err)
		cfg.MaxBodySize = v
	}
	if changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		errs = append(errs, err)
		cfg.Concurrency = v
	}
	boolean("strict", &cfg.StrictAddresses)
	str("listen", &cfg.ListenAddress)

	return errors.Join(errs...)
}

// addTorFlags registers the flags of commands that use the Tor session.
func addTorFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9150)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().Duration("bootstrap-timeout", 0,
		"Timeout for bootstrapping the Tor session (0 means no limit)")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for opening a stream to an onion service (0 means no limit)")
}

// setupLogger creates the logger for cfg and installs it as the default.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := log.NewLogger(log.Options{
		Writer:  cmd.ErrOrStderr(),
		Verbose: cfg.Verbose,
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// prepare loads the configuration, sets up logging and builds the app.
// The returned cleanup must be called when the command finishes.
func prepare(cmd *cobra.Command) (context.Context, *app, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, logCloser, err := setupLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := newApp(cfg, logger, overlayBuilder(cfg))
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, err
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	cleanup := func() {
		cancel()
		if err := a.Close(); err != nil {
			logger.Error("failed to shut down cleanly", "error", err)
		}
		_ = logCloser.Close()
	}
	return ctx, a, cleanup, nil
}
