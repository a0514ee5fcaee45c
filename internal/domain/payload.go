package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload-specific errors
var (
	// ErrPayloadValueInvalid is returned when a payload value cannot be
	// represented as JSON.
	ErrPayloadValueInvalid = errors.New("payload value is not JSON-serializable")
)

// Payload is the argument envelope passed to a task handler: an ordered
// list of positional arguments plus keyed arguments, each stored as a raw
// JSON value. Keeping the envelope as plain JSON keeps stored tasks
// portable and lets handlers decode their own argument types.
type Payload struct {
	Args   []json.RawMessage          `json:"args,omitempty"`
	Kwargs map[string]json.RawMessage `json:"kwargs,omitempty"`
}

// NewPayload builds a Payload from Go values, marshaling each one to JSON.
// Any value that cannot be marshaled is rejected here, at enqueue time,
// rather than surfacing later inside a worker.
func NewPayload(args []any, kwargs map[string]any) (Payload, error) {
	p := Payload{}

	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: argument %d: %v", ErrPayloadValueInvalid, i, err)
		}
		p.Args = append(p.Args, raw)
	}

	if len(kwargs) > 0 {
		p.Kwargs = make(map[string]json.RawMessage, len(kwargs))
		for key, val := range kwargs {
			raw, err := json.Marshal(val)
			if err != nil {
				return Payload{}, fmt.Errorf("%w: keyword %q: %v", ErrPayloadValueInvalid, key, err)
			}
			p.Kwargs[key] = raw
		}
	}

	return p, nil
}

// Arg decodes the positional argument at index i into dst.
// Returns an error if the index is out of range or decoding fails.
func (p Payload) Arg(i int, dst any) error {
	if i < 0 || i >= len(p.Args) {
		return fmt.Errorf("payload has no argument at index %d", i)
	}
	return json.Unmarshal(p.Args[i], dst)
}

// Kwarg decodes the keyword argument with the given key into dst.
// Returns an error if the key is absent or decoding fails.
func (p Payload) Kwarg(key string, dst any) error {
	raw, ok := p.Kwargs[key]
	if !ok {
		return fmt.Errorf("payload has no keyword argument %q", key)
	}
	return json.Unmarshal(raw, dst)
}

// HasKwarg reports whether the keyword argument is present.
func (p Payload) HasKwarg(key string) bool {
	_, ok := p.Kwargs[key]
	return ok
}
