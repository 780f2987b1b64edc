package transfer

import "errors"

var (
	// ErrInvalidURL is returned for URLs that cannot be parsed, have no
	// host, or carry an invalid port.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrDisallowedDomain is returned for hosts outside the .onion namespace.
	ErrDisallowedDomain = errors.New("only .onion hosts are allowed")

	// ErrDisallowedScheme is returned for any scheme other than http.
	ErrDisallowedScheme = errors.New("only the http scheme is allowed")

	// ErrProtocol is returned when the response is malformed, truncated, or
	// larger than the configured limit.
	ErrProtocol = errors.New("HTTP protocol error")
)
