package rule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Value is a typed condition literal. Arrays hold scalars only.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ArrayValue builds an array value from scalar elements.
func ArrayValue(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: KindArray, arr: arr}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }
func (v Value) Bool() bool { return v.b }
func (v Value) Items() []Value { return v.arr }
func (v Value) isScalar() bool { return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool }

// Interface returns the plain Go representation of v.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "<invalid>"
	}
}

// ValueOf converts a decoded JSON or YAML value into a Value.
func ValueOf(raw interface{}) (Value, error) {
	switch val := raw.(type) {
	case Value:
		return val, nil
	case string:
		return StringValue(val), nil
	case bool:
		return BoolValue(val), nil
	case float64:
		return NumberValue(val), nil
	case float32:
		return NumberValue(float64(val)), nil
	case int:
		return NumberValue(float64(val)), nil
	case int32:
		return NumberValue(float64(val)), nil
	case int64:
		return NumberValue(float64(val)), nil
	case uint:
		return NumberValue(float64(val)), nil
	case uint32:
		return NumberValue(float64(val)), nil
	case uint64:
		return NumberValue(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return NumberValue(f), nil
	case []interface{}:
		items := make([]Value, 0, len(val))
		for i, item := range val {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			if !v.isScalar() {
				return Value{}, fmt.Errorf("element %d: arrays may only hold scalars", i)
			}
			items = append(items, v)
		}
		return Value{kind: KindArray, arr: items}, nil
	case []string:
		items := make([]Value, len(val))
		for i, s := range val {
			items[i] = StringValue(s)
		}
		return Value{kind: KindArray, arr: items}, nil
	case []float64:
		items := make([]Value, len(val))
		for i, n := range val {
			items[i] = NumberValue(n)
		}
		return Value{kind: KindArray, arr: items}, nil
	case nil:
		return Value{}, fmt.Errorf("null is not a supported value")
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (v Value) MarshalYAML() (interface{}, error) {
	return v.Interface(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
