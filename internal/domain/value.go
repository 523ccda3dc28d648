package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindBool
	KindInt
	KindFloat
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	default:
		return "null"
	}
}

// Value is a single untyped cell of an uploaded row.
type Value struct {
	kind ValueKind
	s    string
	b    bool
	i    int64
	f    float64
}

// Null is the absent value. It is distinct from an empty string.
var Null = Value{}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// String renders the value the way it appears in validation notes and
// uniqueness comparisons. Null renders as an empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	default:
		return ""
	}
}

// IsBlank reports whether the value is null or a whitespace-only string.
func (v Value) IsBlank() bool {
	if v.kind == KindNull {
		return true
	}
	if v.kind == KindString {
		return strings.TrimSpace(v.s) == ""
	}
	return false
}

// Any converts the value to its plain Go representation.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON scalar into a Value. Nested documents are
// kept as their JSON text so that the row stays flat.
func ValueOf(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return IntValue(int64(t)), nil
		}
		return FloatValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return FloatValue(f), nil
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return Null, fmt.Errorf("unsupported value %T: %w", raw, err)
		}
		return StringValue(string(encoded)), nil
	}
}
