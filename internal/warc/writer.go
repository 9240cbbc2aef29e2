package warc

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrStaleJournal is returned when opening a WARC file whose journal from a
// previous run still exists. The file's tail may be a partial record;
// opening requires explicit recovery.
var ErrStaleJournal = errors.New("stale WARC journal present; previous run did not close cleanly")

// Deduper answers payload-digest dedup queries for revisit records.
// Implemented by the frontier's visits table.
type Deduper interface {
	// Lookup returns the WARC record id that first captured digest, or ""
	// when the payload is new.
	Lookup(key, digest string) (string, error)

	// Store remembers that digest was captured under recordID.
	Store(key, digest, recordID string) error
}

// Field is one user-supplied warcinfo header field (--warc-header).
type Field struct {
	Name  string
	Value string
}

// Options configures a Writer.
type Options struct {
	// Prefix is the output path without extension; files become
	// <prefix>.warc[.gz] or <prefix>-NNNNN.warc[.gz] under rotation.
	Prefix string

	// Compress wraps each record in its own gzip member.
	Compress bool

	// Digests adds WARC-Block-Digest and WARC-Payload-Digest fields.
	Digests bool

	// MaxSize rotates to a new numbered file before a record would push
	// the current file past this many bytes. 0 disables rotation.
	MaxSize int64

	// Append continues an existing file instead of overwriting. With
	// MaxSize set, append rotates to the next free sequence number so an
	// earlier truncated tail is never overwritten.
	Append bool

	// Recover truncates a journaled file back to its committed offset
	// instead of refusing to open it.
	Recover bool

	// TempDir is where files are written before MoveDir relocation.
	// Empty writes in place.
	TempDir string

	// MoveDir receives finished files (--warc-move). Empty leaves them.
	MoveDir string

	// CDX maintains a <prefix>.cdx index alongside the archive.
	CDX bool

	// Software names the crawler in the warcinfo record.
	Software string

	// InfoFields are extra warcinfo fields.
	InfoFields []Field

	// Deduper enables revisit records when non-nil.
	Deduper Deduper
}

// Writer appends records to a WARC file sequence.
//
// Appends are serialized: the writer owns the file handle and its journal
// exclusively, per the shared-resource discipline of the engine.
type Writer struct {
	opts Options

	mu       sync.Mutex
	file     *os.File
	path     string
	offset   int64 // committed length of the current file
	seq      int
	infoID   string
	cdx      *cdxWriter
	closed   bool
	recordsWritten int64

	// lastStart is the offset where the most recent record began, for
	// CDX indexing.
	lastStart int64
}

// NewWriter opens the first file of the sequence and emits its warcinfo
// record.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Software == "" {
		opts.Software = "webgrab/1.0"
	}
	w := &Writer{opts: opts}

	if err := w.openFile(w.firstSequence()); err != nil {
		return nil, err
	}
	if opts.CDX {
		cdx, err := newCDXWriter(opts.Prefix+".cdx", opts.Append)
		if err != nil {
			_ = w.file.Close()
			return nil, err
		}
		w.cdx = cdx
	}
	return w, nil
}

// firstSequence picks the starting file number: under rotation an append
// run continues after the last existing file.
func (w *Writer) firstSequence() int {
	if w.opts.MaxSize <= 0 || !w.opts.Append {
		return 0
	}
	seq := 0
	for {
		if _, err := os.Stat(w.seqPath(seq)); os.IsNotExist(err) {
			return seq
		}
		seq++
	}
}

// seqPath returns the path for file number seq.
func (w *Writer) seqPath(seq int) string {
	name := w.opts.Prefix
	if w.opts.MaxSize > 0 {
		name = fmt.Sprintf("%s-%05d", w.opts.Prefix, seq)
	}
	name += ".warc"
	if w.opts.Compress {
		name += ".gz"
	}
	if w.opts.TempDir != "" {
		name = filepath.Join(w.opts.TempDir, filepath.Base(name))
	}
	return name
}

// journalPath returns the journal path guarding path.
func journalPath(path string) string {
	return path + ".journal"
}

// openFile opens (or creates) file number seq and writes its warcinfo.
func (w *Writer) openFile(seq int) error {
	path := w.seqPath(seq)

	// A surviving journal means the previous process died mid-append.
	if st, err := os.Stat(journalPath(path)); err == nil && !st.IsDir() {
		if !w.opts.Recover {
			return fmt.Errorf("%w: %s", ErrStaleJournal, journalPath(path))
		}
		if err := w.recoverFile(path); err != nil {
			return err
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if w.opts.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644) //nolint:gosec // archive output
	if err != nil {
		return fmt.Errorf("failed to open WARC file: %w", err)
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to seek WARC file: %w", err)
	}

	w.file = f
	w.path = path
	w.offset = offset
	w.seq = seq

	return w.writeWarcinfo()
}

// recoverFile truncates path back to its journaled offset and removes the
// journal.
func (w *Writer) recoverFile(path string) error {
	data, err := os.ReadFile(journalPath(path)) //nolint:gosec // our own journal
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed journal %s: %w", journalPath(path), err)
	}
	if err := os.Truncate(path, offset); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to truncate to journaled offset: %w", err)
	}
	if err := os.Remove(journalPath(path)); err != nil {
		return fmt.Errorf("failed to remove journal: %w", err)
	}
	return nil
}

// writeWarcinfo emits the file-opening warcinfo record.
func (w *Writer) writeWarcinfo() error {
	var body bytes.Buffer
	fmt.Fprintf(&body, "software: %s\r\n", w.opts.Software)
	fmt.Fprintf(&body, "format: WARC File Format 1.0\r\n")
	for _, f := range w.opts.InfoFields {
		fmt.Fprintf(&body, "%s: %s\r\n", f.Name, f.Value)
	}

	rec := &Record{
		Type:        TypeWarcinfo,
		ID:          NewRecordID(),
		Date:        time.Now(),
		ContentType: "application/warc-fields",
		Fields: map[string]string{
			FieldFilename: filepath.Base(w.path),
		},
		Block: body.Bytes(),
	}
	if err := w.append(rec); err != nil {
		return err
	}
	w.infoID = rec.ID
	return nil
}

// WriteRecord appends one record, rotating first when it would push the
// file past the size threshold. It returns the record's id.
func (w *Writer) WriteRecord(rec *Record) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecordLocked(rec)
}

func (w *Writer) writeRecordLocked(rec *Record) (string, error) {
	if w.closed {
		return "", fmt.Errorf("WARC writer is closed")
	}
	if rec.ID == "" {
		rec.ID = NewRecordID()
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now()
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]string)
	}
	if w.infoID != "" && rec.Type != TypeWarcinfo {
		rec.Fields[FieldWarcinfoID] = w.infoID
	}

	// Rotate before the record, never through it. The uncompressed size
	// is the conservative estimate for compressed files.
	estimate := int64(len(rec.header())) + rec.blockLen() + 4
	if w.opts.MaxSize > 0 && w.offset > 0 && w.offset+estimate > w.opts.MaxSize {
		if w.recordsWritten > 0 { // never rotate an empty file
			if err := w.rotate(); err != nil {
				return "", err
			}
		}
	}

	if err := w.append(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// append journals, writes, and commits one record.
func (w *Writer) append(rec *Record) error {
	// Journal the committed offset so a crash mid-append is recoverable.
	if err := w.writeJournal(w.offset); err != nil {
		return err
	}
	w.lastStart = w.offset

	var err error
	if w.opts.Compress {
		gz := gzip.NewWriter(w.file)
		if err = rec.writeTo(gz); err == nil {
			err = gz.Close()
		}
	} else {
		err = rec.writeTo(w.file)
	}
	if err != nil {
		// Truncate back so the file stays a well-formed record sequence.
		_ = w.file.Truncate(w.offset)
		_, _ = w.file.Seek(w.offset, io.SeekStart)
		return fmt.Errorf("failed to append WARC record: %w", err)
	}

	end, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to locate record end: %w", err)
	}

	w.offset = end
	w.recordsWritten++
	return w.writeJournal(w.offset)
}

// writeJournal atomically replaces the journal content with offset.
func (w *Writer) writeJournal(offset int64) error {
	tmp := journalPath(w.path) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)+"\n"), 0644); err != nil { //nolint:gosec // journal
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tmp, journalPath(w.path)); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	return nil
}

// rotate finishes the current file and opens the next in the sequence.
func (w *Writer) rotate() error {
	if err := w.finishFile(); err != nil {
		return err
	}
	return w.openFile(w.seq + 1)
}

// finishFile closes the current file, deletes its journal, and relocates
// it when MoveDir is set.
func (w *Writer) finishFile() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WARC file: %w", err)
	}
	if err := os.Remove(journalPath(w.path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove journal: %w", err)
	}
	if w.opts.MoveDir != "" {
		dst := filepath.Join(w.opts.MoveDir, filepath.Base(w.path))
		if err := os.Rename(w.path, dst); err != nil {
			return fmt.Errorf("failed to move WARC file: %w", err)
		}
	}
	return nil
}

// Close finishes the sequence. The journal's removal marks a clean close.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.cdx != nil {
		if err := w.cdx.close(); err != nil {
			return err
		}
	}
	return w.finishFile()
}

// Capture is one HTTP exchange handed to CaptureExchange.
type Capture struct {
	// TargetURI is the fetched URL.
	TargetURI string

	// VisitKey is the frontier dedup key, for revisit lookups.
	VisitKey string

	// IPAddress is the remote address of the exchange.
	IPAddress string

	// Date is the capture time.
	Date time.Time

	// RequestHead is the HTTP request line and headers, CRLF-terminated
	// including the final blank line.
	RequestHead []byte

	// RequestBody is the request entity, usually empty.
	RequestBody []byte

	// ResponseHead is the HTTP status line and headers, CRLF-terminated
	// including the final blank line.
	ResponseHead []byte

	// OpenBody returns a fresh reader over the response entity. It may be
	// called more than once (digesting, then writing). Nil means an empty
	// body.
	OpenBody func() (io.ReadCloser, error)

	// BodyLength is the entity length in bytes.
	BodyLength int64

	// PayloadDigest is the entity digest in WARC notation.
	PayloadDigest string

	// StatusCode and ContentType describe the HTTP response for the CDX
	// index.
	StatusCode  int
	ContentType string
}

// CaptureExchange writes the paired request and response records for one
// exchange, sharing a WARC-Concurrent-To id. When the deduper reports the
// payload as already archived, a revisit record replaces the response.
// It returns the response (or revisit) record id.
func (w *Writer) CaptureExchange(c *Capture) (string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := c.Date
	if date.IsZero() {
		date = time.Now()
	}

	respID := NewRecordID()

	reqBlock := make([]byte, 0, len(c.RequestHead)+len(c.RequestBody))
	reqBlock = append(reqBlock, c.RequestHead...)
	reqBlock = append(reqBlock, c.RequestBody...)
	reqRec := &Record{
		Type:        TypeRequest,
		ID:          NewRecordID(),
		Date:        date,
		ContentType: `application/http;msgtype=request`,
		Fields: map[string]string{
			FieldTargetURI:    c.TargetURI,
			FieldIPAddress:    c.IPAddress,
			FieldConcurrentTo: respID,
		},
		Block: reqBlock,
	}
	if w.opts.Digests {
		reqRec.Fields[FieldBlockDigest] = DigestBytes(reqBlock)
	}
	if _, err := w.writeRecordLocked(reqRec); err != nil {
		return "", false, err
	}

	// Dedup: identical payloads become revisit records.
	if w.opts.Deduper != nil && c.PayloadDigest != "" && c.BodyLength > 0 {
		original, err := w.opts.Deduper.Lookup(c.VisitKey, c.PayloadDigest)
		if err != nil {
			return "", false, fmt.Errorf("failed visit lookup: %w", err)
		}
		if original != "" {
			revisit := &Record{
				Type:        TypeRevisit,
				ID:          respID,
				Date:        date,
				ContentType: `application/http;msgtype=response`,
				Fields: map[string]string{
					FieldTargetURI:     c.TargetURI,
					FieldIPAddress:     c.IPAddress,
					FieldConcurrentTo:  reqRec.ID,
					FieldRefersTo:      original,
					FieldProfile:       RevisitProfile,
					FieldPayloadDigest: c.PayloadDigest,
				},
				Block: c.ResponseHead,
			}
			if w.opts.Digests {
				revisit.Fields[FieldBlockDigest] = DigestBytes(c.ResponseHead)
			}
			if _, err := w.writeRecordLocked(revisit); err != nil {
				return "", false, err
			}
			w.indexCDX(c, date)
			return respID, true, nil
		}
	}

	respRec := &Record{
		Type:        TypeResponse,
		ID:          respID,
		Date:        date,
		ContentType: `application/http;msgtype=response`,
		Fields: map[string]string{
			FieldTargetURI:    c.TargetURI,
			FieldIPAddress:    c.IPAddress,
			FieldConcurrentTo: reqRec.ID,
		},
		BlockLength: int64(len(c.ResponseHead)) + c.BodyLength,
	}
	if c.PayloadDigest != "" && w.opts.Digests {
		respRec.Fields[FieldPayloadDigest] = c.PayloadDigest
	}

	if w.opts.Digests {
		// The block digest covers headers plus entity, so the body is
		// read once for digesting and once for writing.
		d := NewDigester()
		_, _ = d.Write(c.ResponseHead)
		if c.OpenBody != nil {
			body, err := c.OpenBody()
			if err != nil {
				return "", false, fmt.Errorf("failed to open body for digest: %w", err)
			}
			_, err = io.Copy(d, body)
			_ = body.Close()
			if err != nil {
				return "", false, fmt.Errorf("failed to digest body: %w", err)
			}
		}
		respRec.Fields[FieldBlockDigest] = d.Sum()
	}

	if c.OpenBody != nil {
		body, err := c.OpenBody()
		if err != nil {
			return "", false, fmt.Errorf("failed to open body: %w", err)
		}
		defer body.Close() //nolint:errcheck // read-only spool handle
		respRec.BlockReader = io.MultiReader(bytes.NewReader(c.ResponseHead), body)
	} else {
		respRec.Block = c.ResponseHead
		respRec.BlockLength = 0
	}

	if _, err := w.writeRecordLocked(respRec); err != nil {
		return "", false, err
	}
	w.indexCDX(c, date)

	if w.opts.Deduper != nil && c.PayloadDigest != "" && c.BodyLength > 0 {
		if err := w.opts.Deduper.Store(c.VisitKey, c.PayloadDigest, respID); err != nil {
			return "", false, fmt.Errorf("failed to store visit: %w", err)
		}
	}
	return respID, false, nil
}

// WriteMetadata records a failure that happened before response headers
// arrived, so the archive still explains what happened on the wire.
func (w *Writer) WriteMetadata(targetURI, message string) (string, error) {
	return w.WriteRecord(&Record{
		Type:        TypeMetadata,
		ContentType: "text/plain",
		Fields: map[string]string{
			FieldTargetURI: targetURI,
		},
		Block: []byte(message),
	})
}

// WriteLog appends the crawl log as a resource record, conventionally the
// final record of the archive.
func (w *Writer) WriteLog(log []byte) (string, error) {
	rec := &Record{
		Type:        TypeResource,
		ContentType: "text/plain",
		Fields: map[string]string{
			FieldTargetURI: "urn:X-webgrab:log",
		},
		Block: log,
	}
	if w.opts.Digests {
		rec.Fields[FieldBlockDigest] = DigestBytes(log)
	}
	return w.WriteRecord(rec)
}

// indexCDX adds a CDX line for the record just written. Must be called
// with the lock held, immediately after the write.
func (w *Writer) indexCDX(c *Capture, date time.Time) {
	if w.cdx == nil {
		return
	}
	w.cdx.add(cdxEntry{
		url:      c.TargetURI,
		date:     date,
		mime:     c.ContentType,
		status:   c.StatusCode,
		checksum: strings.TrimPrefix(c.PayloadDigest, "sha1:"),
		size:     w.offset - w.lastStart,
		offset:   w.lastStart,
		filename: filepath.Base(w.path),
	})
}

// Path returns the current output file path.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}
