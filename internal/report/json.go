package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/onionfetch/internal/database"
)

// JSONWriter outputs history in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string

	// version is stamped into the document when non-empty.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion records the onionfetch version in the output.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// JSONHistory is the document written by JSONWriter.
type JSONHistory struct {
	// Version is the onionfetch version that generated this document.
	Version string `json:"version,omitempty"`

	// Summary aggregates the records.
	Summary Summary `json:"summary"`

	// Downloads are the records, most recent first.
	Downloads []*database.DownloadRecord `json:"downloads"`
}

// Write outputs records wrapped in a JSONHistory.
func (w *JSONWriter) Write(records []*database.DownloadRecord) (int, error) {
	if records == nil {
		records = []*database.DownloadRecord{}
	}
	return w.writeJSON(JSONHistory{
		Version:   w.version,
		Summary:   Summarize(records),
		Downloads: records,
	})
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
