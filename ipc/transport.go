// Package ipc implements the JsonLinesTransport and IpcProtocol of
// spec.md §4.12: a newline-delimited JSON-object wire format and a
// duplex dispatcher on top of it.
package ipc

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Frame is one decoded JSON-object message. Every valid frame has a
// non-empty string "type" field.
type Frame map[string]interface{}

// Type returns the frame's type field.
func (f Frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

// RequestID returns the frame's requestId field, or "" if absent.
func (f Frame) RequestID() string {
	id, _ := f["requestId"].(string)
	return id
}

// Transport reads a byte stream, splitting on '\n' and decoding each
// trimmed line as a JSON object; malformed lines are silently skipped
// and never stall the stream (spec.md §4.12). Writes append '\n'.
type Transport struct {
	scanner *bufio.Scanner
	w       io.Writer
	wMu     sync.Mutex
}

// NewTransport wraps r for reading frames and w for writing them.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Transport{scanner: scanner, w: w}
}

// ReadFrame blocks until the next well-formed frame is read, or
// returns ok=false once the underlying stream is exhausted. Empty
// lines, non-JSON lines, non-object JSON, and objects missing a
// string "type" field are skipped.
func (t *Transport) ReadFrame() (Frame, bool) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		typ, ok := raw["type"].(string)
		if !ok || typ == "" {
			continue
		}
		return Frame(raw), true
	}
	return nil, false
}

// WriteFrame marshals f as JSON and appends a trailing newline. Safe
// for concurrent use.
func (t *Transport) WriteFrame(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	t.wMu.Lock()
	defer t.wMu.Unlock()
	_, err = t.w.Write(b)
	return err
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
