// Package protocol defines the JSON envelopes exchanged between a terminal
// client and the gateway over a WebSocket text frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

// Envelope discriminants.
const (
	TypeInput  = "input"
	TypeResize = "resize"
	TypeData   = "data"
	TypeError  = "error"
)

// MaxDimension is the largest accepted column or row count.
const MaxDimension = math.MaxUint16

// Envelope is one of Input, Resize, Data, Error or Unknown.
type Envelope interface {
	Type() string
	isEnvelope()
}

// Input carries keystrokes from the client to the shell.
type Input struct {
	Data string
}

// Resize carries a new window geometry. A zero field means the frame did
// not carry a positive integer for it.
type Resize struct {
	Cols int
	Rows int
}

// Valid reports whether both dimensions are usable.
func (r Resize) Valid() bool {
	return r.Cols > 0 && r.Rows > 0
}

// Data carries terminal output from the shell to the client.
type Data struct {
	Data string
}

// Error carries a human-readable failure to the client.
type Error struct {
	Message string
}

// Unknown is a well-formed envelope with an unrecognised discriminant.
type Unknown struct {
	Kind string
}

func (Input) Type() string     { return TypeInput }
func (Resize) Type() string    { return TypeResize }
func (Data) Type() string      { return TypeData }
func (Error) Type() string     { return TypeError }
func (u Unknown) Type() string { return u.Kind }

func (Input) isEnvelope()   {}
func (Resize) isEnvelope()  {}
func (Data) isEnvelope()    {}
func (Error) isEnvelope()   {}
func (Unknown) isEnvelope() {}

type wire struct {
	Type    string           `json:"type"`
	Data    *string          `json:"data,omitempty"`
	Cols    *json.RawMessage `json:"cols,omitempty"`
	Rows    *json.RawMessage `json:"rows,omitempty"`
	Message *string          `json:"message,omitempty"`
}

type textFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type resizeFrame struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode renders env as a JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case Input:
		return json.Marshal(textFrame{Type: TypeInput, Data: e.Data})
	case Resize:
		return json.Marshal(resizeFrame{Type: TypeResize, Cols: e.Cols, Rows: e.Rows})
	case Data:
		return json.Marshal(textFrame{Type: TypeData, Data: e.Data})
	case Error:
		return json.Marshal(errorFrame{Type: TypeError, Message: e.Message})
	default:
		return nil, fmt.Errorf("encode %T: unsupported envelope", env)
	}
}

// Decode parses a text frame. Frames that are not JSON objects with a
// string "type", or whose payload has the wrong shape, fail with an error
// wrapping model.ErrMalformedFrame. Unrecognised types decode to Unknown.
func Decode(frame []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", model.ErrMalformedFrame)
	}

	switch w.Type {
	case TypeInput:
		if w.Data == nil {
			return nil, fmt.Errorf("%w: input without data", model.ErrMalformedFrame)
		}
		return Input{Data: *w.Data}, nil
	case TypeResize:
		return Resize{Cols: dimension(w.Cols), Rows: dimension(w.Rows)}, nil
	case TypeData:
		if w.Data == nil {
			return nil, fmt.Errorf("%w: data without payload", model.ErrMalformedFrame)
		}
		return Data{Data: *w.Data}, nil
	case TypeError:
		if w.Message == nil {
			return nil, fmt.Errorf("%w: error without message", model.ErrMalformedFrame)
		}
		return Error{Message: *w.Message}, nil
	default:
		return Unknown{Kind: w.Type}, nil
	}
}

// dimension returns the value of a positive integral JSON number within
// range, and 0 for anything else.
func dimension(raw *json.RawMessage) int {
	if raw == nil {
		return 0
	}
	var f float64
	if err := json.Unmarshal(*raw, &f); err != nil {
		return 0
	}
	if f <= 0 || f > MaxDimension || f != math.Trunc(f) {
		return 0
	}
	return int(f)
}
