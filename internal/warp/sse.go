package warp

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// sseChunkSize keeps reads small so tiny upstream events surface without
// waiting for a full buffer.
const sseChunkSize = 256

// DecodeStream parses an upstream SSE body into normalized events.
// The returned channels close when the body ends; the error channel
// carries at most one read error.
func DecodeStream(body io.Reader) (<-chan *StreamEvent, <-chan error) {
	events := make(chan *StreamEvent, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		err := decodeSSE(body, func(ev *StreamEvent) error {
			events <- ev
			return nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return events, errs
}

// decodeSSE is the synchronous core: scan event/data framing, concatenate
// continuation data lines, base64-decode each complete event, and emit
// its normalized frames. A non-nil error from emit aborts the decode.
func decodeSSE(body io.Reader, emit func(*StreamEvent) error) error {
	var (
		buf       strings.Builder
		eventData strings.Builder
		chunk     = make([]byte, sseChunkSize)
	)

	flush := func() error {
		data := eventData.String()
		eventData.Reset()
		if data == "" || data == "[DONE]" {
			return nil
		}
		frames, err := decodePayload(data)
		if err != nil {
			// A malformed frame is logged and skipped; the stream goes on.
			utils.Warn("[SSE] Skipping malformed event: %v", err)
			return nil
		}
		for _, ev := range frames {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}

	processLine := func(line string) error {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			return flush()
		case strings.HasPrefix(line, ":"):
			return nil // comment
		case strings.HasPrefix(line, "data:"):
			eventData.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			return nil
		case strings.HasPrefix(line, "event:"):
			return nil // the payload itself names the event kind
		default:
			return nil
		}
	}

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf.WriteString(string(chunk[:n]))
			text := buf.String()
			for {
				idx := strings.IndexByte(text, '\n')
				if idx == -1 {
					break
				}
				line := text[:idx]
				text = text[idx+1:]
				if err := processLine(line); err != nil {
					return err
				}
			}
			buf.Reset()
			buf.WriteString(text)
		}

		if readErr != nil {
			// Flush a trailing line and any leftover partial event.
			if rest := buf.String(); rest != "" {
				if err := processLine(rest); err != nil {
					return err
				}
			}
			if err := flush(); err != nil {
				return err
			}
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// decodePayload base64-decodes one event's accumulated data and parses
// the contained frames.
func decodePayload(data string) ([]*StreamEvent, error) {
	padded := data
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	raw, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		// Some frames arrive in standard alphabet; try it before giving up.
		raw, err = base64.StdEncoding.DecodeString(padded)
		if err != nil {
			return nil, err
		}
	}
	return ParseResponseEvents(raw)
}
