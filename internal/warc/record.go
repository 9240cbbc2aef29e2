package warc

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record types defined by ISO 28500 that this writer emits.
const (
	TypeWarcinfo = "warcinfo"
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeRevisit  = "revisit"
	TypeMetadata = "metadata"
	TypeResource = "resource"
)

// WARC header field names.
const (
	FieldType          = "WARC-Type"
	FieldRecordID      = "WARC-Record-ID"
	FieldDate          = "WARC-Date"
	FieldTargetURI     = "WARC-Target-URI"
	FieldIPAddress     = "WARC-IP-Address"
	FieldConcurrentTo  = "WARC-Concurrent-To"
	FieldRefersTo      = "WARC-Refers-To"
	FieldProfile       = "WARC-Profile"
	FieldPayloadDigest = "WARC-Payload-Digest"
	FieldBlockDigest   = "WARC-Block-Digest"
	FieldFilename      = "WARC-Filename"
	FieldWarcinfoID    = "WARC-Warcinfo-ID"
	FieldContentType   = "Content-Type"
	FieldContentLength = "Content-Length"
)

// RevisitProfile marks revisit records whose payload matched a previous
// capture byte for byte.
const RevisitProfile = "http://netpreserve.org/warc/1.0/revisit/identical-payload-digest"

// Record is one WARC record before serialization: named fields plus a
// block source. The block may be supplied as bytes or as a reader with a
// known length, so large bodies never need to fit in memory.
type Record struct {
	// Type is one of the Type constants.
	Type string

	// ID is the record's urn:uuid identifier, assigned by NewRecordID.
	ID string

	// Date is the capture time.
	Date time.Time

	// ContentType is the block's media type.
	ContentType string

	// Fields holds further WARC headers (target URI, digests, ...).
	Fields map[string]string

	// Block is the record payload when it fits in memory.
	Block []byte

	// BlockReader streams the payload when Block is nil; BlockLength
	// must then hold its exact size.
	BlockReader io.Reader
	BlockLength int64
}

// NewRecordID allocates a fresh record identifier.
func NewRecordID() string {
	return "<urn:uuid:" + uuid.NewString() + ">"
}

// blockLen returns the record's payload size.
func (r *Record) blockLen() int64 {
	if r.Block != nil {
		return int64(len(r.Block))
	}
	return r.BlockLength
}

// header serializes the record's header lines including the trailing blank
// line. Field order is fixed for the core fields, then alphabetical, so
// output is deterministic.
func (r *Record) header() []byte {
	var b strings.Builder
	b.WriteString("WARC/1.0\r\n")
	writeField(&b, FieldType, r.Type)
	writeField(&b, FieldRecordID, r.ID)
	writeField(&b, FieldDate, r.Date.UTC().Format("2006-01-02T15:04:05Z"))

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.Fields[name] != "" {
			writeField(&b, name, r.Fields[name])
		}
	}

	if r.ContentType != "" {
		writeField(&b, FieldContentType, r.ContentType)
	}
	writeField(&b, FieldContentLength, fmt.Sprintf("%d", r.blockLen()))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// writeTo serializes the whole record to w: header, block, and the
// separating blank lines required between records.
func (r *Record) writeTo(w io.Writer) error {
	if _, err := w.Write(r.header()); err != nil {
		return err
	}
	if r.Block != nil {
		if _, err := w.Write(r.Block); err != nil {
			return err
		}
	} else if r.BlockReader != nil {
		if _, err := io.Copy(w, r.BlockReader); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n\r\n")
	return err
}
