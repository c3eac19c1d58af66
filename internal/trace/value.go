package trace

import (
	"fmt"
	"strconv"
)

// ValueKind enumerates the attribute value variants.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Value is an attribute value: null, string, integer or float.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// ValueOf converts an arbitrary host value. Types outside the union are
// rendered with fmt.Sprint.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint:
		if uint64(x) <= 1<<63-1 {
			return Int(int64(x))
		}
		return String(strconv.FormatUint(uint64(x), 10))
	case uint64:
		if x <= 1<<63-1 {
			return Int(int64(x))
		}
		return String(strconv.FormatUint(x, 10))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case bool:
		return String(strconv.FormatBool(x))
	case fmt.Stringer:
		return String(x.String())
	case error:
		return String(x.Error())
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload, or "" for other kinds.
func (v Value) Str() string { return v.s }

// Int64 returns the integer payload, or 0 for other kinds.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the float payload, or 0 for other kinds.
func (v Value) Float64() float64 { return v.f }

// Interface returns the payload as string, int64, float64 or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	default:
		return nil
	}
}

// String renders v for display and text indexing.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return "null"
	}
}

// Attr is one attribute attached to a record.
type Attr struct {
	ID    int
	Value Value
}

func setAttr(attrs []Attr, id int, v Value) []Attr {
	for i := range attrs {
		if attrs[i].ID == id {
			attrs[i].Value = v
			return attrs
		}
	}
	return append(attrs, Attr{ID: id, Value: v})
}
