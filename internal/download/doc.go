// Package download saves onion resources to disk.
//
// A Downloader fetches one URL through the transfer client, refuses
// non-2xx responses, writes the body atomically into the download directory
// and records the attempt in the history store. Two downloads may not target
// the same destination file at the same time.
package download
