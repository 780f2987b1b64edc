// Package feed provides an unbounded, ordered event queue with a single
// consuming channel.
//
// Producers never block: Push appends to an in-memory backlog and a pump
// goroutine forwards values to the channel returned by C in the order they
// were pushed. This is what lets the Tor bootstrap listener and the session's
// subscribers observe every status transition without the producer waiting on
// a slow consumer.
package feed
