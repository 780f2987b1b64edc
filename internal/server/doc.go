// Package server exposes a local HTTP and WebSocket API for observing the
// Tor session and driving downloads.
//
// Routes:
//
//	GET  /api/tor/ready       {"ready":bool}
//	POST /api/tor/bootstrap   {"alreadyReady":bool}, 503 when bootstrap fails
//	GET  /api/tor/events      WebSocket stream of bootstrap statuses
//	GET  /api/downloads       WebSocket stream of progress events for ?url=&name=
//	GET  /api/history         recorded downloads, ?limit= or ?host=
//	GET  /api/history/:id     one recorded download
//
// The server is meant to be bound to a loopback address; it has no
// authentication.
package server
