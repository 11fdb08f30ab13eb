// Package buffer provides a bounded tail buffer for recent PTY output.
package buffer

import (
	"bytes"
	"regexp"
	"sync"
)

// ansiPattern matches CSI and OSC escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// RingBuffer is a thread-safe tail buffer that keeps the most recent
// bytes written to it, up to capacity. Older bytes are discarded as new
// ones arrive.
//
// It holds the tail of PTY output so the last line a session printed can
// be shown in the session list after the process is gone.
type RingBuffer struct {
	// data holds the buffered bytes, oldest first. len(data) <= capacity.
	data []byte

	// capacity is the maximum number of bytes kept.
	capacity int

	mu sync.RWMutex
}

// NewRingBuffer creates a RingBuffer with the given capacity.
// Non-positive capacities become 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends p, discarding the oldest bytes on overflow. It never
// fails and implements io.Writer.
func (rb *RingBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Input at least as large as the buffer replaces it with its own tail.
	if len(p) >= rb.capacity {
		rb.data = append(rb.data[:0], p[len(p)-rb.capacity:]...)
		return len(p), nil
	}

	// Shift out just enough old bytes to make room, reusing the backing array.
	if overflow := len(rb.data) + len(p) - rb.capacity; overflow > 0 {
		kept := copy(rb.data, rb.data[overflow:])
		rb.data = rb.data[:kept]
	}
	rb.data = append(rb.data, p...)

	return len(p), nil
}

// ReadAll returns a copy of the buffered bytes, or nil when empty.
func (rb *RingBuffer) ReadAll() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if len(rb.data) == 0 {
		return nil
	}
	return bytes.Clone(rb.data)
}

// LastLine returns the last non-blank line of buffered output with
// escape sequences and carriage returns stripped.
func (rb *RingBuffer) LastLine() string {
	plain := ansiPattern.ReplaceAll(rb.ReadAll(), nil)
	lines := bytes.Split(plain, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		// a bare CR rewinds the cursor, so only the text after the last one is visible
		if idx := bytes.LastIndexByte(bytes.TrimRight(line, "\r"), '\r'); idx >= 0 {
			line = line[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return string(line)
		}
	}
	return ""
}

// Clear drops all buffered bytes.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = rb.data[:0]
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return len(rb.data)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}
