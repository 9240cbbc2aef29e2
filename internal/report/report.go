package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/webgrab/webgrab/internal/engine"
	"github.com/webgrab/webgrab/internal/frontier"
)

// Summary is the crawl result a report renders.
type Summary struct {
	// Seeds are the crawl's starting URLs.
	Seeds []string `json:"seeds"`

	// Started is when the crawl began.
	Started time.Time `json:"started"`

	// Duration is the crawl wall-clock time.
	Duration time.Duration `json:"duration"`

	// Queued and Dequeued are the frontier throughput counters.
	Queued   int64 `json:"queued"`
	Dequeued int64 `json:"dequeued"`

	// ByStatus counts terminal URL statuses.
	ByStatus map[frontier.Status]int64 `json:"by_status"`

	// BytesDownloaded is the aggregate body byte count.
	BytesDownloaded int64 `json:"bytes_downloaded"`

	// Hosts summarizes per-host bandwidth, busiest first.
	Hosts []engine.HostBandwidth `json:"hosts"`

	// WARCFile is the archive path, empty when recording was off.
	WARCFile string `json:"warc_file,omitempty"`
}

// NewSummary builds a Summary from the engine snapshot.
func NewSummary(seeds []string, snap *engine.Snapshot, warcFile string) *Summary {
	s := &Summary{
		Seeds:           seeds,
		Started:         time.Now().Add(-snap.Duration),
		Duration:        snap.Duration,
		Queued:          snap.Queued,
		Dequeued:        snap.Dequeued,
		ByStatus:        snap.ByStatus,
		BytesDownloaded: snap.BytesIn,
		Hosts:           append([]engine.HostBandwidth(nil), snap.PerHost...),
		WARCFile:        warcFile,
	}
	sort.Slice(s.Hosts, func(a, b int) bool { return s.Hosts[a].Bytes > s.Hosts[b].Bytes })
	return s
}

// Writer renders a Summary to an output stream.
type Writer interface {
	// Write renders the summary, returning the bytes written.
	Write(s *Summary) (int, error)
}

// MarkdownWriter outputs the summary as GitHub-flavored Markdown.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter over output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"URLs queued", strconv.FormatInt(s.Queued, 10)},
		{"URLs processed", strconv.FormatInt(s.Dequeued, 10)},
		{"Bytes downloaded", strconv.FormatInt(s.BytesDownloaded, 10)},
	}
	if s.WARCFile != "" {
		rows = append(rows, []string{"WARC file", "`" + s.WARCFile + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	md.H2("URLs by status")
	statusRows := make([][]string, 0, len(s.ByStatus))
	for _, status := range []frontier.Status{
		frontier.StatusDone, frontier.StatusError, frontier.StatusSkipped, frontier.StatusTodo,
	} {
		if n, ok := s.ByStatus[status]; ok {
			statusRows = append(statusRows, []string{string(status), strconv.FormatInt(n, 10)})
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   statusRows,
	})

	if len(s.Hosts) > 0 {
		md.PlainText("")
		md.H2("Hosts")
		hostRows := make([][]string, 0, len(s.Hosts))
		for _, h := range s.Hosts {
			hostRows = append(hostRows, []string{
				"`" + h.Host + "`",
				strconv.FormatInt(h.Bytes, 10),
				h.Duration.Round(time.Millisecond).String(),
			})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Host", "Bytes", "Transfer time"},
			Rows:   hostRows,
		})
	}

	return len(md.String()), md.Build()
}

// JSONWriter outputs the summary as indented JSON.
type JSONWriter struct {
	output io.Writer
}

// NewJSONWriter creates a JSONWriter over output.
func NewJSONWriter(output io.Writer) *JSONWriter {
	return &JSONWriter{output: output}
}

// Write implements Writer.
func (w *JSONWriter) Write(s *Summary) (int, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to serialize summary: %w", err)
	}
	data = append(data, '\n')
	return w.output.Write(data)
}

// TextWriter outputs a terse one-paragraph summary for interactive runs.
type TextWriter struct {
	output io.Writer
}

// NewTextWriter creates a TextWriter over output.
func NewTextWriter(output io.Writer) *TextWriter {
	return &TextWriter{output: output}
}

// Write implements Writer.
func (w *TextWriter) Write(s *Summary) (int, error) {
	return fmt.Fprintf(w.output,
		"Processed %d of %d URLs in %s (%d done, %d errors, %d skipped), %d bytes downloaded.\n",
		s.Dequeued, s.Queued, s.Duration.Round(time.Millisecond),
		s.ByStatus[frontier.StatusDone], s.ByStatus[frontier.StatusError],
		s.ByStatus[frontier.StatusSkipped], s.BytesDownloaded)
}
