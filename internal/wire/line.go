package wire

import (
	"bufio"
	"strings"
)

// LineReader wraps a bufio.Reader with the line-ended-by-either-CRLF-or-LF
// tolerance the multiplexer's plain-text protocol (spec.md §6) and the
// child-process talk protocol (spec.md §4.1) both need.
type LineReader struct {
	r *bufio.Reader
}

func NewLineReader(r *bufio.Reader) *LineReader {
	return &LineReader{r: r}
}

// ReadLine reads one line with its terminator stripped.
func (lr *LineReader) ReadLine() (string, error) {
	return readLine(lr.r)
}

// ReadMultiline reads lines until one is exactly ".", per the POST
// multi-line body / multi-line response convention (spec.md §4.1 step 6).
// The terminator line itself is consumed but not returned.
func (lr *LineReader) ReadMultiline() ([]string, error) {
	var lines []string
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return lines, err
		}
		if line == "." {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// WriteLine writes s followed by "\n".
func WriteLine(w interface{ Write([]byte) (int, error) }, s string) error {
	_, err := w.Write([]byte(s + "\n"))
	return err
}

// EnsureTrailingNewline appends "\n" to s if it does not already end in one,
// per spec.md §4.1 step 2: "Append \n if absent."
func EnsureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
