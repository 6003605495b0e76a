// ABOUTME: Minimal server-sent-events frame scanner shared by the SSE dialects
// ABOUTME: Dispatches (event, data) pairs to a callback, coalescing multi-line data fields

package dialect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// errStopScan signals an orderly early exit from scanSSE after a dialect has
// seen its completion marker.
var errStopScan = errors.New("stop scan")

// maxStreamLine bounds a single SSE line; some providers send whole JSON
// documents on one data line.
const maxStreamLine = 1024 * 1024

// scanSSE reads SSE frames from r and calls fn once per frame with the event
// name (empty for unnamed frames) and the joined data payload. Returning an
// error from fn stops the scan. Comment lines and unknown fields are ignored
// per the SSE spec.
func scanSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	var eventName string
	var data []string

	flush := func() error {
		if len(data) == 0 {
			eventName = ""
			return nil
		}
		err := fn(eventName, strings.Join(data, "\n"))
		eventName = ""
		data = data[:0]
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	// Frame without trailing blank line at EOF still counts.
	return flush()
}
