package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/transfer"
)

// Store persists download records. *database.HistoryDB satisfies it.
type Store interface {
	InsertDownload(ctx context.Context, record *database.DownloadRecord) error
}

// Request names a resource to download.
type Request struct {
	// URL is the onion http URL.
	URL string
	// Name is the destination file name inside the download directory.
	// Empty means the last path segment of URL, or its host.
	Name string
}

// Downloader writes onion resources into a directory.
type Downloader struct {
	client    *transfer.Client
	connector transfer.Connector
	dir       string

	store       Store
	logger      *slog.Logger
	concurrency int

	// mu guards active, the set of destinations being written.
	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithStore records every attempt in store.
func WithStore(store Store) Option {
	return func(d *Downloader) {
		d.store = store
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// WithConcurrency sets how many downloads DownloadAll runs at once.
// Default is 2 if not specified.
func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDownloader creates a Downloader that saves files into dir, fetching
// them with client over streams from connector.
func NewDownloader(client *transfer.Client, connector transfer.Connector, dir string, opts ...Option) *Downloader {
	d := &Downloader{
		client:      client,
		connector:   connector,
		dir:         dir,
		concurrency: 2,
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Destination validates req and returns the path it would be written to.
func (d *Downloader) Destination(req Request) (string, error) {
	_, dest, err := d.resolve(req)
	return dest, err
}

func (d *Downloader) resolve(req Request) (transfer.Target, string, error) {
	target, err := d.client.Validate(req.URL)
	if err != nil {
		return transfer.Target{}, "", err
	}
	return target, filepath.Join(d.dir, destinationName(req, target)), nil
}

// Download fetches req into the download directory.
//
// Chunk progress is forwarded to sink as it arrives; sink.OnFinished is
// called only once the file is in place. Every attempt that passes URL
// validation is recorded in the store, failed ones included, and the record
// is returned alongside any error.
func (d *Downloader) Download(ctx context.Context, req Request, sink transfer.ProgressSink) (*database.DownloadRecord, error) {
	target, dest, err := d.resolve(req)
	if err != nil {
		return nil, err
	}

	if !d.acquire(dest) {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, dest)
	}
	defer d.release(dest)

	record := &database.DownloadRecord{
		ID:        uuid.NewString(),
		URL:       req.URL,
		Host:      target.Host,
		StartedAt: time.Now(),
	}

	d.logger.Info("downloading", "url", req.URL, "destination", dest)

	err = d.fetchToFile(ctx, req.URL, dest, sink, record)
	record.FinishedAt = time.Now()
	if err != nil {
		record.Error = err.Error()
		d.logger.Warn("download failed", "url", req.URL, "error", err)
	} else {
		d.logger.Info("download complete",
			"url", req.URL,
			"destination", dest,
			"bytes", record.Bytes,
			"elapsed", record.Duration().Round(time.Millisecond),
		)
	}

	d.save(ctx, record)

	if err != nil {
		return record, err
	}
	if sink != nil {
		sink.OnFinished()
	}
	return record, nil
}

func (d *Downloader) fetchToFile(ctx context.Context, rawURL, dest string, sink transfer.ProgressSink, record *database.DownloadRecord) error {
	if err := os.MkdirAll(d.dir, 0750); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	var chunks transfer.ProgressSink
	if sink != nil {
		chunks = chunkSink{sink}
	}

	result, err := d.client.Get(ctx, rawURL, d.connector, chunks)
	if err != nil {
		return err
	}
	record.StatusCode = result.Status
	if result.Status < 200 || result.Status > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, result.Status)
	}

	if err := writeFileAtomic(dest, result.Body); err != nil {
		return err
	}

	sum := sha256.Sum256(result.Body)
	record.Path = dest
	record.Bytes = int64(len(result.Body))
	record.SHA256 = hex.EncodeToString(sum[:])
	return nil
}

// save records the attempt even when ctx has been cancelled.
func (d *Downloader) save(ctx context.Context, record *database.DownloadRecord) {
	if d.store == nil {
		return
	}
	if err := d.store.InsertDownload(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Warn("failed to record download", "url", record.URL, "error", err)
	}
}

func (d *Downloader) acquire(dest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.active[dest]; busy {
		return false
	}
	d.active[dest] = struct{}{}
	return true
}

func (d *Downloader) release(dest string) {
	d.mu.Lock()
	delete(d.active, dest)
	d.mu.Unlock()
}

// writeFileAtomic writes data to a temporary file next to dest and renames
// it into place, so readers never observe a partial file.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// destinationName picks a safe file name for req.
func destinationName(req Request, target transfer.Target) string {
	if name := sanitizeName(req.Name); name != "" {
		return name
	}
	p, _, _ := strings.Cut(target.RequestURI, "?")
	if name := sanitizeName(path.Base(p)); name != "" {
		return name
	}
	return target.Host
}

// sanitizeName reduces name to a plain base name, or "" if nothing usable
// remains.
func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

// chunkSink forwards chunk progress and holds back the terminal event until
// the file is written.
type chunkSink struct {
	sink transfer.ProgressSink
}

func (c chunkSink) OnChunk(length int) {
	c.sink.OnChunk(length)
}

func (chunkSink) OnFinished() {}
