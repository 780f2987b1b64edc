// Package tor is the overlay-network boundary of onionfetch.
//
// Everything that leaves the process goes through an Overlay: a black box
// that can bootstrap itself, report bootstrap progress as an ordered stream
// of BootstrapPhase values, and open byte streams to (host, port) pairs
// through Tor. Two implementations exist:
//
//   - EmbeddedOverlay launches a private Tor daemon with tornago on first
//     bootstrap and dials through its SOCKS5 listener.
//   - ExternalOverlay uses a Tor SOCKS5 proxy that is already running
//     (for example the Tor Browser's 127.0.0.1:9150).
//
// Construction never touches the network. Bootstrap is on-demand: nothing
// happens until the first Bootstrap call, which keeps the long-running
// startup observable and explicit for the caller.
//
// The package also carries v3 onion address helpers (checksum validation)
// used by the transfer layer's strict address mode.
package tor
