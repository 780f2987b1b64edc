package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/onionfetch/internal/database"
)

// SimpleWriter outputs human-readable text for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose adds checksums, paths and error details.
	verbose bool

	// now is the reference time for relative timestamps.
	now func() time.Time
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// WithNow fixes the reference time for relative timestamps.
func WithNow(now func() time.Time) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.now = now
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs records in human-readable format.
func (w *SimpleWriter) Write(records []*database.DownloadRecord) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, records)
	w.writeRecords(&sb, records)

	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, records []*database.DownloadRecord) {
	s := Summarize(records)

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("  Download History\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "  Downloads:   %s (%s ok, %s failed)\n",
		humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.Succeeded)),
		humanize.Comma(int64(s.Failed)),
	)
	fmt.Fprintf(sb, "  Transferred: %s\n", humanize.Bytes(uint64(max(s.TotalBytes, 0))))
	fmt.Fprintf(sb, "  Services:    %d\n", s.Hosts)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRecords(sb *strings.Builder, records []*database.DownloadRecord) {
	if len(records) == 0 {
		sb.WriteString("  No downloads recorded.\n\n")
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	for _, r := range records {
		fmt.Fprintf(sb, "  [%-6s] %s\n", strings.ToUpper(statusText(r)), r.URL)
		fmt.Fprintf(sb, "           %s, %s in %s",
			humanize.RelTime(r.StartedAt, w.now(), "ago", "from now"),
			humanize.Bytes(uint64(max(r.Bytes, 0))),
			r.Duration().Round(time.Millisecond),
		)
		if r.StatusCode != 0 {
			fmt.Fprintf(sb, ", HTTP %d", r.StatusCode)
		}
		sb.WriteString("\n")

		if !r.Succeeded() {
			fmt.Fprintf(sb, "           error: %s\n", truncateString(r.Error, 120))
		}
		if w.verbose {
			if r.Path != "" {
				fmt.Fprintf(sb, "           file: %s\n", r.Path)
			}
			if r.SHA256 != "" {
				fmt.Fprintf(sb, "           sha256: %s\n", r.SHA256)
			}
			fmt.Fprintf(sb, "           id: %s\n", r.ID)
		}
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}
