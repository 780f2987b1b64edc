package transfer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nao1215/onionfetch/internal/tor"
)

// defaultHTTPPort is used when the URL carries no explicit port.
const defaultHTTPPort = 80

// Target is a validated destination.
type Target struct {
	// Host is the lowercase .onion host name.
	Host string
	// Port is the destination port, 80 unless the URL says otherwise.
	Port uint16
	// Scheme is always "http".
	Scheme string
	// RequestURI is the path and query sent on the request line.
	RequestURI string
}

// String returns the target as an http URL.
func (t Target) String() string {
	if t.Port == defaultHTTPPort {
		return t.Scheme + "://" + t.Host + t.RequestURI
	}
	return fmt.Sprintf("%s://%s:%d%s", t.Scheme, t.Host, t.Port, t.RequestURI)
}

// Validate parses rawURL and enforces the address policy.
//
// The domain is checked before the scheme, so "https://example.com" reports
// ErrDisallowedDomain. With strict addresses enabled the host must also be a
// checksum-valid v3 onion address.
func (c *Client) Validate(rawURL string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}

	if !tor.IsOnionHost(host) {
		return Target{}, fmt.Errorf("%w: %s", ErrDisallowedDomain, host)
	}
	if c.strictAddresses && !tor.IsValidV3Address(host) {
		if tor.IsV2Address(host) {
			return Target{}, fmt.Errorf("%w: %s is a retired v2 onion address", ErrDisallowedDomain, host)
		}
		return Target{}, fmt.Errorf("%w: %s is not a valid v3 onion address", ErrDisallowedDomain, host)
	}

	if u.Scheme != "http" {
		return Target{}, fmt.Errorf("%w: %q", ErrDisallowedScheme, u.Scheme)
	}

	port := uint16(defaultHTTPPort)
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return Target{}, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
		port = uint16(n)
	}

	return Target{
		Host:       host,
		Port:       port,
		Scheme:     u.Scheme,
		RequestURI: u.RequestURI(),
	}, nil
}
