package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidDataDir is returned when no data directory is configured.
	ErrInvalidDataDir = errors.New("invalid data directory: must not be empty")

	// ErrInvalidTimeout is returned when a timeout is negative.
	// Use 0 for no limit.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidConcurrency is returned when the download concurrency is not
	// positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 for no limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidProxyAddress is returned when an external Tor proxy is
	// requested without a valid host:port address.
	ErrInvalidProxyAddress = errors.New("invalid Tor proxy address: must be host:port")

	// ErrInvalidListenAddress is returned when the API listen address is not
	// a valid host:port.
	ErrInvalidListenAddress = errors.New("invalid listen address: must be host:port")
)
