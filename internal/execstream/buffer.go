package execstream

import (
	"bytes"
	"strings"
)

// LineBuffer accumulates stream bytes and splits them into lines on '\n'.
// A trailing '\r' is stripped from each line.
type LineBuffer struct {
	buf bytes.Buffer
}

// Write appends p and returns every line it completed.
func (b *LineBuffer) Write(p []byte) []string {
	b.buf.Write(p)

	var lines []string
	for {
		idx := bytes.IndexByte(b.buf.Bytes(), '\n')
		if idx < 0 {
			return lines
		}
		line := string(b.buf.Next(idx + 1))
		lines = append(lines, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
	}
}

// Flush returns any unterminated trailing text and resets the buffer.
func (b *LineBuffer) Flush() (string, bool) {
	if b.buf.Len() == 0 {
		return "", false
	}
	line := strings.TrimSuffix(b.buf.String(), "\r")
	b.buf.Reset()
	return line, true
}

// Len returns the number of buffered, unterminated bytes.
func (b *LineBuffer) Len() int {
	return b.buf.Len()
}
