package session

import "errors"

var (
	// ErrConfiguration is returned when the overlay cannot be constructed,
	// for example because its state directory cannot be created.
	ErrConfiguration = errors.New("tor session configuration error")

	// ErrBootstrap is returned when the overlay fails to bootstrap.
	// Bootstrap may be retried.
	ErrBootstrap = errors.New("tor bootstrap failed")

	// ErrNotReady is returned by Connect before a successful bootstrap.
	ErrNotReady = errors.New("tor session is not ready")

	// ErrConnect wraps transport failures while opening or using a stream.
	ErrConnect = errors.New("tor connection failed")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("tor session is closed")
)
