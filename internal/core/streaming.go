package core

// streaming.go cleans raw upload bytes before tokenization.
//
// Spreadsheet exports often carry a UTF-8 byte order mark or stray bytes from
// legacy encodings. Neither should break the CSV structure:
//
//   - the BOM (0xEF 0xBB 0xBF) is removed so the first cell stays numeric
//   - each run of invalid UTF-8 is replaced with '?' so only the affected
//     cell fails coercion

import (
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sanitizeInput returns data without a leading BOM and with invalid UTF-8
// replaced. The input slice is never modified.
func sanitizeInput(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	return bytes.ToValidUTF8(data, []byte("?"))
}

// CountingReader wraps an io.Reader to track bytes read.
// The web layer uses it to log the size of an upload as it is buffered.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader creates a counting reader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}
