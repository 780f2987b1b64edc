package report

import (
	"io"
	"time"

	"github.com/nao1215/onionfetch/internal/database"
)

// Writer defines the interface for history output.
type Writer interface {
	// Write renders records to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(records []*database.DownloadRecord) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the records to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(records []*database.DownloadRecord) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(records)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// Summary aggregates a set of download records.
type Summary struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	TotalBytes int64         `json:"totalBytes"`
	Hosts      int           `json:"hosts"`
	Elapsed    time.Duration `json:"elapsedNs"`
}

// Summarize computes the Summary of records.
func Summarize(records []*database.DownloadRecord) Summary {
	var s Summary
	hosts := make(map[string]struct{})
	for _, r := range records {
		s.Total++
		if r.Succeeded() {
			s.Succeeded++
			s.TotalBytes += r.Bytes
		} else {
			s.Failed++
		}
		if d := r.Duration(); d > 0 {
			s.Elapsed += d
		}
		hosts[r.Host] = struct{}{}
	}
	s.Hosts = len(hosts)
	return s
}

// statusText returns a short outcome label for r.
func statusText(r *database.DownloadRecord) string {
	if r.Succeeded() {
		return "ok"
	}
	return "failed"
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
