package warc

import (
	"crypto/sha1" //nolint:gosec // WARC digests are defined over SHA-1
	"encoding/base32"
	"hash"
	"io"
)

// Digester accumulates a WARC digest over streamed block bytes.
type Digester struct {
	h hash.Hash
}

// NewDigester creates a SHA-1 digester.
func NewDigester() *Digester {
	return &Digester{h: sha1.New()} //nolint:gosec // WARC digest
}

// Write implements io.Writer.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the digest in WARC notation: "sha1:" + base32.
func (d *Digester) Sum() string {
	return "sha1:" + base32.StdEncoding.EncodeToString(d.h.Sum(nil))
}

// DigestBytes returns the WARC digest of data.
func DigestBytes(data []byte) string {
	d := NewDigester()
	_, _ = d.Write(data)
	return d.Sum()
}

// DigestReader returns the WARC digest of everything in r.
func DigestReader(r io.Reader) (string, error) {
	d := NewDigester()
	if _, err := io.Copy(d.h, r); err != nil {
		return "", err
	}
	return d.Sum(), nil
}
