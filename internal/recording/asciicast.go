// Package recording writes terminal sessions as asciicast v2 files.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Header is the first line of an asciicast v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one asciicast event line, encoded as [offset, type, data].
type Event struct {
	Offset float64
	Type   string // "o" output, "i" input, "r" resize
	Data   string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Type, e.Data})
}

// UnmarshalJSON decodes a three-element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	typ, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.Offset, e.Type, e.Data = offset, typ, payload
	return nil
}

// Recorder appends asciicast events for one session. It is safe for
// concurrent use; once closed, writes are dropped.
type Recorder struct {
	w      io.Writer
	file   *os.File
	start  time.Time
	mu     sync.Mutex
	closed bool
}

// Create opens path for writing and returns a Recorder owning the file.
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{w: f, file: f, start: time.Now()}, nil
}

// NewWithWriter returns a Recorder writing to w. Close does not close w.
func NewWithWriter(w io.Writer) *Recorder {
	return &Recorder{w: w, start: time.Now()}
}

// WriteHeader writes the header line. Call it once, before any event.
func (r *Recorder) WriteHeader(cols, rows int, title string) error {
	header := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	return r.writeLine(data)
}

// Output records bytes produced by the process.
func (r *Recorder) Output(p []byte) error {
	return r.event("o", string(p))
}

// Input records bytes sent to the process.
func (r *Recorder) Input(p []byte) error {
	return r.event("i", string(p))
}

// Resize records a geometry change as "<cols>x<rows>".
func (r *Recorder) Resize(cols, rows int) error {
	return r.event("r", fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) event(typ, payload string) error {
	data, err := json.Marshal(Event{
		Offset: time.Since(r.start).Seconds(),
		Type:   typ,
		Data:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.writeLine(data)
}

func (r *Recorder) writeLine(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// Close closes the underlying file if the Recorder owns one. It is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
