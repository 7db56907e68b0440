package transport

import (
	"bufio"
	"io"
	"strings"
)

// EventStream frames an SSE (text/event-stream) body into a sequence of
// string payloads. Framing rule: lines are buffered until a blank line is
// seen; every "data: ..." line contributes its payload to the current
// frame (joined with "\n" for multi-line payloads, matching the SSE spec);
// a frame whose payload is the literal "[DONE]" ends the stream without
// being delivered to the caller.
type EventStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	done    bool
	err     error
}

func newEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &EventStream{scanner: scanner, body: body}
}

// Next blocks until the next complete frame is available, ctx is
// cancelled, or the stream ends. It returns ("", false, nil) at a clean
// end of stream (including an explicit "[DONE]" frame).
//
// Next does not itself select on ctx.Done — callers that need mid-read
// cancellation should close the underlying response body from a goroutine
// watching ctx, which unblocks the scanner's read with an error.
func (s *EventStream) Next() (string, bool, error) {
	if s.done {
		return "", false, s.err
	}

	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if len(lines) == 0 {
				continue // blank line between frames, not a terminator yet
			}
			payload := strings.Join(lines, "\n")
			if payload == "[DONE]" {
				s.done = true
				s.Close()
				return "", false, nil
			}
			return payload, true, nil
		}

		if data, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(data, " "))
		}
		// Non-data fields (event:, id:, retry:, comments) are ignored; this
		// transport only carries JSON chat-completion chunks.
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = err
		s.Close()
		return "", false, err
	}

	// Stream closed without a blank-line terminator on the final frame;
	// flush whatever was buffered.
	s.Close()
	if len(lines) > 0 {
		payload := strings.Join(lines, "\n")
		if payload != "[DONE]" {
			return payload, true, nil
		}
	}
	return "", false, nil
}

// Close releases the underlying response body. Safe to call multiple
// times.
func (s *EventStream) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
