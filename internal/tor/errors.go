package tor

import "errors"

var (
	// ErrProxyNotTor means the proxy answered but did not speak SOCKS5 the
	// way Tor does.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect means no TCP connection to the proxy could be
	// made, usually because Tor is not running there.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout means the proxy did not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress means the proxy address is not "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrNotBootstrapped is returned by Connect before Bootstrap has succeeded.
	ErrNotBootstrapped = errors.New("tor overlay is not bootstrapped")

	// ErrOverlayClosed is returned by operations on a closed overlay.
	ErrOverlayClosed = errors.New("tor overlay is closed")

	// ErrAddressFiltered is returned when Connect is asked for a .onion
	// destination but the overlay was built without onion addresses allowed.
	ErrAddressFiltered = errors.New("onion addresses are not allowed by this overlay")

	errUnknownProxyStatus = errors.New("unknown proxy status")
)

// ProxyStatus is the outcome of probing a SOCKS5 listener.
type ProxyStatus int

const (
	// ProxyStatusOK means the listener completed a SOCKS5 no-auth handshake.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something answered that is not Tor.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means the TCP dial failed.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the dial or handshake timed out.
	ProxyStatusTimeout
)

var proxyStatusInfo = map[ProxyStatus]struct {
	text string
	err  error
}{
	ProxyStatusOK:            {"OK", nil},
	ProxyStatusWrongType:     {"wrong type (not Tor)", ErrProxyNotTor},
	ProxyStatusCannotConnect: {"cannot connect", ErrProxyCannotConnect},
	ProxyStatusTimeout:       {"timeout", ErrProxyTimeout},
}

func (s ProxyStatus) String() string {
	if info, ok := proxyStatusInfo[s]; ok {
		return info.text
	}
	return "unknown"
}

// Err returns the sentinel error for s, or nil for ProxyStatusOK.
func (s ProxyStatus) Err() error {
	if info, ok := proxyStatusInfo[s]; ok {
		return info.err
	}
	return errUnknownProxyStatus
}
