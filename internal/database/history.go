package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the database file created inside the data directory.
const FileName = "onionfetch.db"

// HistoryDB stores download history.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging, letting the history command read
	// while a download is being recorded.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

func (hdb *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		sha256 TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_host ON downloads(host);
	CREATE INDEX IF NOT EXISTS idx_downloads_started ON downloads(started_at);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// DownloadRecord is one download attempt.
type DownloadRecord struct {
	// ID is a random UUID assigned by the downloader.
	ID string `json:"id"`
	// URL is the requested URL.
	URL string `json:"url"`
	// Host is the onion host the URL points at.
	Host string `json:"host"`
	// Path is the destination file. Empty when no file was written.
	Path string `json:"path,omitempty"`
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int `json:"statusCode"`
	// Bytes is the body size.
	Bytes int64 `json:"bytes"`
	// SHA256 is the hex digest of the body.
	SHA256 string `json:"sha256,omitempty"`
	// StartedAt is when the attempt began.
	StartedAt time.Time `json:"startedAt"`
	// FinishedAt is when the attempt ended.
	FinishedAt time.Time `json:"finishedAt"`
	// Error describes the failure. Empty on success.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the attempt produced a file.
func (r *DownloadRecord) Succeeded() bool {
	return r.Error == ""
}

// Duration returns how long the attempt took.
func (r *DownloadRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// InsertDownload stores record. The ID must be unique.
func (hdb *HistoryDB) InsertDownload(ctx context.Context, record *DownloadRecord) error {
	if record.ID == "" {
		return errors.New("download record has no ID")
	}

	query := `
	INSERT INTO downloads (id, url, host, path, status_code, bytes, sha256, started_at, finished_at, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := hdb.db.ExecContext(ctx, query,
		record.ID,
		record.URL,
		record.Host,
		record.Path,
		record.StatusCode,
		record.Bytes,
		record.SHA256,
		formatTimestamp(record.StartedAt),
		formatTimestamp(record.FinishedAt),
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download record: %w", err)
	}
	return nil
}

const selectDownloads = `
	SELECT id, url, host, path, status_code, bytes, sha256, started_at, finished_at, error
	FROM downloads
	`

// GetDownload returns the record with the given ID, or nil if there is none.
func (hdb *HistoryDB) GetDownload(ctx context.Context, id string) (*DownloadRecord, error) {
	row := hdb.db.QueryRowContext(ctx, selectDownloads+" WHERE id = ?", id)

	record, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download record: %w", err)
	}
	return record, nil
}

// ListDownloads returns the most recent records first. A limit of zero or
// less returns every record.
func (hdb *HistoryDB) ListDownloads(ctx context.Context, limit int) ([]*DownloadRecord, error) {
	query := selectDownloads + " ORDER BY started_at DESC"
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return hdb.queryDownloads(ctx, query, args...)
}

// ListDownloadsByHost returns every record for host, most recent first.
func (hdb *HistoryDB) ListDownloadsByHost(ctx context.Context, host string) ([]*DownloadRecord, error) {
	query := selectDownloads + " WHERE host = ? ORDER BY started_at DESC"
	return hdb.queryDownloads(ctx, query, host)
}

// LatestSuccessfulDownload returns the newest successful record for url, or
// nil if the URL was never downloaded successfully.
func (hdb *HistoryDB) LatestSuccessfulDownload(ctx context.Context, url string) (*DownloadRecord, error) {
	row := hdb.db.QueryRowContext(ctx,
		selectDownloads+" WHERE url = ? AND error = '' ORDER BY started_at DESC LIMIT 1", url)

	record, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download record: %w", err)
	}
	return record, nil
}

func (hdb *HistoryDB) queryDownloads(ctx context.Context, query string, args ...any) ([]*DownloadRecord, error) {
	rows, err := hdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var records []*DownloadRecord
	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row rowScanner) (*DownloadRecord, error) {
	var (
		record     DownloadRecord
		startedAt  string
		finishedAt string
	)
	err := row.Scan(
		&record.ID,
		&record.URL,
		&record.Host,
		&record.Path,
		&record.StatusCode,
		&record.Bytes,
		&record.SHA256,
		&startedAt,
		&finishedAt,
		&record.Error,
	)
	if err != nil {
		return nil, err
	}
	record.StartedAt = parseTimestamp(startedAt)
	record.FinishedAt = parseTimestamp(finishedAt)
	return &record, nil
}

// storedTimestampFormat sorts lexically in chronological order.
const storedTimestampFormat = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(storedTimestampFormat)
}

// timestampFormats contains the timestamp formats parseTimestamp accepts.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	storedTimestampFormat,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
