// Package main provides the entry point for the onionfetch CLI.
//
// onionfetch downloads files from Tor onion services over an embedded or
// external Tor daemon, records every download, and can expose its Tor
// session and downloads to local applications over HTTP and WebSocket.
//
// Usage:
//
//	onionfetch fetch http://<address>.onion/maps/berlin.pmtiles
//	onionfetch history
//	onionfetch serve
//
// See --help for all available options.
package main

// main is the entry point for onionfetch.
func main() {
	Execute()
}
