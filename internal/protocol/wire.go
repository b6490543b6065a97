package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// JSON has no literal for non-finite numbers, so float arguments holding
// them are carried as these strings.
const (
	wireNaN         = "NaN"
	wireInfinity    = "Infinity"
	wireNegInfinity = "-Infinity"
)

// MarshalWire returns the JSON form pushed to stream subscribers and served
// by the query endpoint, e.g. {"address":"/test/1","args":[{"type":"i","value":42}]}.
// Blob values are base64 encoded; NaN and infinite floats are strings.
func MarshalWire(m *Message) ([]byte, error) {
	if m.Args == nil {
		m = &Message{Address: m.Address, Args: []Arg{}}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message %s: %w", m.Address, err)
	}
	return data, nil
}

// UnmarshalWire parses the JSON form produced by MarshalWire.
func UnmarshalWire(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if m.Args == nil {
		m.Args = []Arg{}
	}
	return &m, nil
}

// MarshalJSON writes the {"type","value"} form of the argument.
func (a Arg) MarshalJSON() ([]byte, error) {
	value := a.Value
	if f, ok := value.(float32); ok {
		switch {
		case math.IsNaN(float64(f)):
			value = wireNaN
		case math.IsInf(float64(f), 1):
			value = wireInfinity
		case math.IsInf(float64(f), -1):
			value = wireNegInfinity
		}
	}

	return json.Marshal(struct {
		Type  ArgType `json:"type"`
		Value any     `json:"value"`
	}{Type: a.Type, Value: value})
}

// UnmarshalJSON restores the concrete Go type of Value from the type tag.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  ArgType         `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	switch raw.Type {
	case TypeInt32:
		var v int32
		err = json.Unmarshal(raw.Value, &v)
		a.Value = v
	case TypeFloat32:
		var v float32
		v, err = unmarshalFloat(raw.Value)
		a.Value = v
	case TypeString:
		var v string
		err = json.Unmarshal(raw.Value, &v)
		a.Value = v
	case TypeBlob:
		var v []byte
		err = json.Unmarshal(raw.Value, &v)
		a.Value = v
	default:
		return fmt.Errorf("unsupported argument type %q", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("argument of type %q: %w", raw.Type, err)
	}

	a.Type = raw.Type
	return nil
}

// unmarshalFloat accepts a JSON number or one of the non-finite markers.
func unmarshalFloat(data json.RawMessage) (float32, error) {
	if len(data) == 0 || data[0] != '"' {
		var v float32
		err := json.Unmarshal(data, &v)
		return v, err
	}

	var marker string
	if err := json.Unmarshal(data, &marker); err != nil {
		return 0, err
	}
	switch marker {
	case wireNaN:
		return float32(math.NaN()), nil
	case wireInfinity:
		return float32(math.Inf(1)), nil
	case wireNegInfinity:
		return float32(math.Inf(-1)), nil
	default:
		return 0, fmt.Errorf("invalid float value %q", marker)
	}
}
