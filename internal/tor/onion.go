package tor

import (
	"encoding/base32"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionSuffix is the top-level suffix shared by all onion service names.
	OnionSuffix = ".onion"

	// OnionV3Length is the length of a v3 onion label (56 base32 characters).
	OnionV3Length = 56

	// OnionV3Version is the version byte embedded in v3 onion addresses.
	OnionV3Version = 0x03
)

// onionV3Pattern matches a bare v3 onion name. Base32 uses a-z and 2-7.
var onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

// onionV2Pattern matches the deprecated 16-character form.
var onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)

// checksumPrefix is the constant prefix of the v3 checksum input
// (rend-spec-v3, "Encoding onion addresses").
var checksumPrefix = []byte(".onion checksum")

// IsOnionHost reports whether host names an onion service: it ends in
// ".onion" (case-insensitive) and has a non-empty label before the suffix.
// Subdomains such as "www.<v3>.onion" are onion hosts too.
func IsOnionHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return len(host) > len(OnionSuffix) && strings.HasSuffix(host, OnionSuffix) &&
		!strings.HasSuffix(host, "."+OnionSuffix)
}

// IsValidV3Address reports whether address (with ".onion" suffix) is a v3
// onion name whose version byte and checksum verify. Any leading subdomain
// labels are ignored, matching how Tor resolves "sub.<v3>.onion".
func IsValidV3Address(address string) bool {
	address = strings.ToLower(strings.TrimSuffix(address, "."))
	if labels := strings.Split(address, "."); len(labels) > 2 {
		address = strings.Join(labels[len(labels)-2:], ".")
	}

	if !onionV3Pattern.MatchString(address) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, OnionSuffix)))
	if err != nil {
		return false
	}

	// 32-byte ed25519 public key || 2-byte checksum || 1-byte version
	if len(decoded) != 35 {
		return false
	}
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != OnionV3Version {
		return false
	}

	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// IsV2Address reports whether address has the retired v2 form.
// v2 services stopped working in October 2021.
func IsV2Address(address string) bool {
	return onionV2Pattern.MatchString(strings.ToLower(address))
}

// computeV3Checksum returns SHA3-256(".onion checksum" || pubkey || version)[:2].
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}
