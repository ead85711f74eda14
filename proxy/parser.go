package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Request is one parsed HTTP request line plus its verbatim header block.
// FirstLine and Headers retain their original terminators so RawBytes
// reproduces exactly what the client sent.
type Request struct {
	Method  string
	Target  string
	Version string

	FirstLine []byte // includes its CRLF/LF terminator
	Headers   []byte // includes each line's terminator and the final empty line
}

// RawBytes returns the first line concatenated with the header block, the
// exact input the fingerprint is computed over.
func (r *Request) RawBytes() []byte {
	out := make([]byte, 0, len(r.FirstLine)+len(r.Headers))
	out = append(out, r.FirstLine...)
	out = append(out, r.Headers...)
	return out
}

// ParseRequest reads one request line and header block from r. It fails
// with a *ProtocolError if the first line is absent, has fewer than three
// whitespace-separated tokens, or the stream ends before an empty line.
func ParseRequest(r *bufio.Reader) (*Request, error) {
	firstLine, err := readLine(r)
	if err != nil {
		return nil, &ProtocolError{Reason: "missing request line", Cause: err}
	}

	tokens := strings.Fields(string(firstLine))
	if len(tokens) < 3 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("request line has %d tokens, want 3", len(tokens))}
	}

	var headers bytes.Buffer
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, &ProtocolError{Reason: "stream ended before empty line", Cause: err}
		}
		headers.Write(line)
		if isEmptyLine(line) {
			break
		}
	}

	return &Request{
		Method:    tokens[0],
		Target:    tokens[1],
		Version:   tokens[2],
		FirstLine: firstLine,
		Headers:   headers.Bytes(),
	}, nil
}

// readLine reads up to and including the next '\n', or returns an error if
// the stream ends first (including a clean EOF with no trailing newline).
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

func isEmptyLine(line []byte) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	return len(trimmed) == 0
}

// SplitLines splits a raw header block into its individual lines, each
// still carrying its original terminator. The final (empty) terminating
// line is included as its own element.
func SplitLines(block []byte) [][]byte {
	var lines [][]byte
	for len(block) > 0 {
		idx := bytes.IndexByte(block, '\n')
		if idx < 0 {
			lines = append(lines, block)
			break
		}
		lines = append(lines, block[:idx+1])
		block = block[idx+1:]
	}
	return lines
}

// FilterProxyHeaders returns the header block with any line whose header
// name begins with "proxy-" (case-insensitive) removed — these are hints
// meant for the proxy itself and must not leak to the origin. Every other
// header, including hop-by-hop ones, is forwarded unchanged; the
// terminating empty line is always preserved.
func FilterProxyHeaders(block []byte) []byte {
	var out bytes.Buffer
	for _, line := range SplitLines(block) {
		if isEmptyLine(line) {
			out.Write(line)
			continue
		}
		name := headerName(line)
		if strings.HasPrefix(strings.ToLower(name), "proxy-") {
			continue
		}
		out.Write(line)
	}
	return out.Bytes()
}

func headerName(line []byte) string {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return ""
	}
	return string(bytes.TrimSpace(line[:idx]))
}
