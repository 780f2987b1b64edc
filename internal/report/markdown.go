package report

import (
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/onionfetch/internal/database"
)

// MarkdownWriter outputs history in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs records in Markdown format.
func (w *MarkdownWriter) Write(records []*database.DownloadRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := Summarize(records)

	w.writeSummary(md, summary)
	w.writeRecords(md, records)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, s Summary) {
	md.H1("Download History")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Downloads", strconv.Itoa(s.Total)},
			{"Succeeded", strconv.Itoa(s.Succeeded)},
			{"Failed", strconv.Itoa(s.Failed)},
			{"Transferred", humanize.Bytes(uint64(max(s.TotalBytes, 0)))},
			{"Onion Services", strconv.Itoa(s.Hosts)},
		},
	})
	md.PlainText("")

	if s.Total > 0 {
		w.writePieChart(md, s)
	}

	switch {
	case s.Total == 0:
		md.Note("No downloads recorded yet.")
	case s.Failed > 0:
		md.Warningf("%d of %d download(s) failed.", s.Failed, s.Total)
	default:
		md.Tip("All downloads completed successfully.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Download Outcomes"),
		piechart.WithShowData(true),
	)
	if s.Succeeded > 0 {
		chart.LabelAndIntValue("Succeeded", uint64(s.Succeeded))
	}
	if s.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(s.Failed))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeRecords(md *markdown.Markdown, records []*database.DownloadRecord) {
	md.H2("Downloads")
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No downloads recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(records))
	for i, r := range records {
		status := "✅ " + statusText(r)
		if !r.Succeeded() {
			status = "❌ " + statusText(r)
		}
		code := "-"
		if r.StatusCode != 0 {
			code = strconv.Itoa(r.StatusCode)
		}
		rows[i] = []string{
			r.StartedAt.Format("2006-01-02 15:04:05 MST"),
			"`" + truncateString(r.URL, 80) + "`",
			status,
			code,
			humanize.Bytes(uint64(max(r.Bytes, 0))),
			r.Duration().Round(time.Millisecond).String(),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Started", "URL", "Status", "HTTP", "Size", "Duration"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, r := range records {
		if !r.Succeeded() {
			md.Details(r.URL, r.Error)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [onionfetch](https://github.com/nao1215/onionfetch)*")
}
