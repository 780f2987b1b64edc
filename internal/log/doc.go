// Package log builds the slog loggers used by onionfetch.
//
// Every logger wraps its output handler in a RedactingHandler, which masks
// values that must not end up in log files: HTTP cookies and credentials,
// Tor control-port cookies and passwords, and onion service secret keys.
// Even in verbose mode these values are masked.
//
// # Usage
//
//	logger, closer, err := log.NewLogger(log.Options{
//	    Writer:  os.Stderr,
//	    Verbose: true,
//	    File:    "/var/log/onionfetch.log",
//	})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//	slog.SetDefault(logger)
//
// The returned logger can be passed to tornago and every onionfetch
// component that accepts a *slog.Logger.
package log
