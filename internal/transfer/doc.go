// Package transfer performs single GET retrievals from onion services over
// streams obtained from a Connector, normally a *session.Manager.
//
// # Address policy
//
// Every URL passes Validate before any network activity: the host must be a
// .onion name and the scheme must be plain http. There is no way to turn the
// check off. Clear-net hosts would still be reached through Tor, but they
// would leave the closed network this client is meant to stay inside.
//
// # Exchange
//
// A Client writes one minimal HTTP/1.1 request, reads the response head,
// and drains the body. When a ProgressSink is supplied the body is read one
// frame at a time and the sink is told each chunk's length, synchronously
// and in wire order, before the next read. The sink's OnFinished is called
// only after the body has been read to the end; a failed transfer returns no
// body and never reports completion.
//
// Redirects, keep-alive and retries are deliberately absent: one URL, one
// stream, one response.
package transfer
