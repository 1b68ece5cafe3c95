package fm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which variant an attribute Value holds.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the tagged variant carried by an Attribute.
// Exactly one of Str, Num, Bool or List is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Attribute
}

// StringValue, NumberValue, BoolValue and ListValue build Values of the
// matching kind.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func ListValue(attrs ...Attribute) Value { return Value{Kind: KindList, List: attrs} }

// IsString reports whether v is the string s.
func (v Value) IsString(s string) bool {
	return v.Kind == KindString && v.Str == s
}

// IsSet reports whether v encodes a raised flag. The solver exports flags as
// the number 1; a boolean true is accepted as well.
func (v Value) IsSet() bool {
	switch v.Kind {
	case KindNumber:
		return v.Num == 1
	case KindBool:
		return v.Bool
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return fmt.Sprintf("[%d attributes]", len(v.List))
	default:
		return "<invalid>"
	}
}

// MarshalJSON writes the untagged form of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", v.Kind)
	}
}

// UnmarshalJSON accepts either the solver's tagged form ({"<Tag>": payload},
// first key wins) or a bare payload.
func (v *Value) UnmarshalJSON(data []byte) error {
	payload, err := untag(data)
	if err != nil {
		return err
	}
	decoded, err := decodePayload(payload)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Attribute is a named value attached to a feature or to another attribute.
type Attribute struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Sub returns the nested attribute with the given name, if v is a list.
func (a Attribute) Sub(name string) (Attribute, bool) {
	if a.Value.Kind != KindList {
		return Attribute{}, false
	}
	return lookup(a.Value.List, name)
}

// Feature is one node of the exported feature model.
type Feature struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute returns the feature's attribute with the given name.
func (f Feature) Attribute(name string) (Attribute, bool) {
	return lookup(f.Attributes, name)
}

// hasType reports whether attrs contain type = kind.
func hasType(attrs []Attribute, kind string) bool {
	for _, a := range attrs {
		if a.Name == "type" && a.Value.IsString(kind) {
			return true
		}
	}
	return false
}

func lookup(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Model is an immutable snapshot of the solver's feature model.
type Model struct {
	Features []Feature `json:"features"`
}

// DecodeModel decodes the solver's export payload, a JSON array of features.
// Failures are reported as *DecodeError.
func DecodeModel(data []byte) (*Model, error) {
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, &DecodeError{What: "model export", Err: err}
	}
	return &Model{Features: features}, nil
}

// Feature returns the feature with the given name.
func (m *Model) Feature(name string) (Feature, bool) {
	if m == nil {
		return Feature{}, false
	}
	for _, f := range m.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// untag strips the single-key wrapper object the solver puts around values.
// Non-object payloads are returned unchanged.
func untag(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if !dec.More() {
		return nil, fmt.Errorf("attribute value object is empty")
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var payload json.RawMessage
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodePayload(payload json.RawMessage) (Value, error) {
	if len(payload) == 0 {
		return Value{}, fmt.Errorf("attribute value is empty")
	}

	switch payload[0] {
	case '[':
		var attrs []Attribute
		if err := json.Unmarshal(payload, &attrs); err != nil {
			return Value{}, fmt.Errorf("nested attributes: %w", err)
		}
		return ListValue(attrs...), nil
	case '"':
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(payload, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case 'n':
		return Value{}, fmt.Errorf("attribute value is null")
	default:
		var n float64
		if err := json.Unmarshal(payload, &n); err != nil {
			return Value{}, fmt.Errorf("unrecognised attribute value %s: %w", string(payload), err)
		}
		return NumberValue(n), nil
	}
}
