package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const maxPayloadDepth = 8

// Payload is the open key/value part of an envelope. Values are restricted
// to a small closed variant set (string, number, bool, nested map, list,
// null), checked while decoding so nothing deeper in the pipeline has to
// trust arbitrary JSON shapes.
type Payload map[string]any

func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		checked, err := checkValue(v, 1)
		if err != nil {
			return fmt.Errorf("data[%q]: %w", k, err)
		}
		out[k] = checked
	}
	*p = out
	return nil
}

func checkValue(v any, depth int) (any, error) {
	if depth > maxPayloadDepth {
		return nil, errors.New("payload nested too deeply")
	}
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	case float64:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			checked, err := checkValue(inner, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			out[k] = checked
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(t))
		for i, inner := range t {
			checked, err := checkValue(inner, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, checked)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// String returns the payload value for key when it is a string.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[key].(string)
	return s, ok
}

// Float returns the payload value for key when it is a number.
func (p Payload) Float(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	f, ok := p[key].(float64)
	return f, ok
}

// Map returns the payload value for key when it is a nested map.
func (p Payload) Map(key string) (map[string]any, bool) {
	if p == nil {
		return nil, false
	}
	m, ok := p[key].(map[string]any)
	return m, ok
}
