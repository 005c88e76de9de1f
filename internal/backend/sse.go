package backend

import (
	"bufio"
	"io"
	"strings"
)

// sseDone is the sentinel frame terminating an SSE stream per the
// OpenAI/Anthropic-compatible wire convention.
const sseDone = "[DONE]"

// scanSSEFrames reads Server-Sent-Event framed data from r and invokes
// onData with the payload of every `data:` line. A `[DONE]` payload
// stops the scan without invoking onData. Lines beginning with `:` are
// comments and are ignored; blank lines separate frames and carry no
// payload of their own.
func scanSSEFrames(r io.Reader, onData func(payload string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == sseDone {
			return nil
		}
		if err := onData(payload); err != nil {
			return err
		}
	}
	return scanner.Err()
}
