// Package database provides SQLite-based storage for onionfetch.
//
// The HistoryDB records every download attempt, successful or not, so the
// history command and the local API can show what was fetched, from which
// onion service, and whether the file on disk still matches its checksum.
//
// SQLite is accessed through modernc.org/sqlite, a CGO-free driver, so the
// binary cross-compiles without a C toolchain. The database is a single file
// in the data directory and runs in WAL mode.
package database
