package client

import (
	"bufio"
	"io"
	"strings"
)

// SSEReader parses server-sent events off a stream. The control plane only
// ever emits data lines and comment keepalives, so the reader returns each
// event's data payload and silently drops comments.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(r)}
}

// Next blocks until a complete event arrives and returns its data payload.
// Returns io.EOF when the stream ends.
func (s *SSEReader) Next() (string, error) {
	var dataParts []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Blank line dispatches; keepalive-only blocks carry no data.
			if len(dataParts) > 0 {
				return strings.Join(dataParts, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}
		if field == "data" {
			dataParts = append(dataParts, value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if len(dataParts) > 0 {
		return strings.Join(dataParts, "\n"), nil
	}
	return "", io.EOF
}
