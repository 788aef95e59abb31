package scanner

import (
	"bufio"
	"bytes"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SniffLen is the number of leading bytes inspected for binary content
const SniffLen = 8 << 10

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// HasUTF16BOM reports whether head starts with a UTF-16 byte order mark
func HasUTF16BOM(head []byte) bool {
	return bytes.HasPrefix(head, bomUTF16LE) || bytes.HasPrefix(head, bomUTF16BE)
}

// LooksBinary reports whether head holds a NUL byte outside UTF-16 text
func LooksBinary(head []byte) bool {
	if HasUTF16BOM(head) {
		return false
	}
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// NewTextReader wraps r so that a leading BOM selects the UTF-8 or UTF-16
// decoder. Without a BOM the bytes pass through unchanged and binary
// detection is left to the caller.
func NewTextReader(r io.Reader) (io.Reader, bool, error) {
	br := bufio.NewReaderSize(r, SniffLen)
	head, err := br.Peek(SniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, false, err
	}
	if LooksBinary(head) {
		return nil, true, nil
	}
	dec := unicode.BOMOverride(encoding.Nop.NewDecoder())
	return transform.NewReader(br, dec), false, nil
}
