package watcher

import (
	"bytes"
	"strings"
)

// maxBufferBytes caps the accumulation buffer for not-yet-terminated stream
// data. When the cap is exceeded the oldest bytes are discarded, keeping only
// the newest keepBufferBytes. Truncation loses whatever partial event the
// dropped bytes represented; for a monitoring stream that beats unbounded
// growth against a source that stops emitting newlines.
const (
	maxBufferBytes  = 1 << 20 // 1 MiB
	keepBufferBytes = maxBufferBytes / 2
)

// lineBuffer accumulates raw stream chunks and splits them into complete,
// newline-terminated lines. Not safe for concurrent use; the watcher
// serializes all access under its own mutex.
type lineBuffer struct {
	buf []byte
}

// append adds a chunk to the buffer and returns every complete line that
// became available, in arrival order. Lines are trimmed of a trailing
// carriage return; lines that are empty after trimming are dropped.
// dropped reports how many buffered bytes were discarded to enforce the cap.
func (b *lineBuffer) append(chunk []byte) (lines []string, dropped int) {
	b.buf = append(b.buf, chunk...)

	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(b.buf[:i]), "\r")
		b.buf = b.buf[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(b.buf) > maxBufferBytes {
		dropped = len(b.buf) - keepBufferBytes
		// Copy so the discarded prefix does not pin the old backing array.
		b.buf = append([]byte(nil), b.buf[dropped:]...)
	}
	return lines, dropped
}

// reset discards any buffered partial line.
func (b *lineBuffer) reset() {
	b.buf = nil
}

// pending returns the number of buffered, not-yet-terminated bytes.
func (b *lineBuffer) pending() int {
	return len(b.buf)
}
