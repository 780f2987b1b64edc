// Package session owns the process-wide Tor overlay handle.
//
// A Manager builds the overlay lazily, drives its bootstrap at most once at a
// time no matter how many callers ask, republishes bootstrap progress to any
// number of subscribers, and hands out streams only once the overlay is
// ready. Connect never bootstraps implicitly, so a long bootstrap is always
// something a caller started on purpose and can observe.
package session
