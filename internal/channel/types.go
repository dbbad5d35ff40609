package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Channel errors.
var (
	ErrNotWritable        = errors.New("channel is not writable")
	ErrOutOfRange         = errors.New("value out of range")
	ErrValueType          = errors.New("invalid value type for channel")
	ErrDuplicateChannel   = errors.New("duplicate channel id")
	ErrReentrantPromotion = errors.New("process image promotion re-entered from a listener")
)

// Primitive is the closed set of semantic types a Channel can carry.
type Primitive interface {
	bool | int16 | int32 | int64 | float32 | float64 | string
}

// Type identifies the semantic type of a channel.
type Type uint8

const (
	TypeBoolean Type = iota
	TypeShort
	TypeInteger
	TypeLong
	TypeFloat
	TypeDouble
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeShort:
		return "short"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the type by name.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func typeOf[T Primitive]() Type {
	var zero T
	switch any(zero).(type) {
	case bool:
		return TypeBoolean
	case int16:
		return TypeShort
	case int32:
		return TypeInteger
	case int64:
		return TypeLong
	case float32:
		return TypeFloat
	case float64:
		return TypeDouble
	default:
		return TypeString
	}
}

// Access defines whether a channel accepts write requests.
type Access uint8

const (
	AccessReadOnly Access = iota
	AccessReadWrite
	AccessWriteOnly
)

// Writable reports whether SetNextWriteValue is permitted.
func (a Access) Writable() bool { return a != AccessReadOnly }

func (a Access) String() string {
	switch a {
	case AccessReadWrite:
		return "RW"
	case AccessWriteOnly:
		return "WO"
	default:
		return "RO"
	}
}

// MarshalJSON encodes the access mode by name.
func (a Access) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Doc describes a channel's static properties.
type Doc struct {
	Unit   string  `json:"unit,omitempty"`
	Access Access  `json:"access"`
	Text   string  `json:"text,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`

	// Bounded is set when Min/Max apply to write requests.
	Bounded bool `json:"bounded,omitempty"`
}

// Option configures a channel's Doc.
type Option func(*Doc)

// Unit sets the unit of measurement (e.g. "W", "Wh", "%").
func Unit(u string) Option {
	return func(d *Doc) { d.Unit = u }
}

// Text sets a human-readable description.
func Text(t string) Option {
	return func(d *Doc) { d.Text = t }
}

// Writable marks the channel read-write.
func Writable() Option {
	return func(d *Doc) { d.Access = AccessReadWrite }
}

// WriteOnly marks the channel write-only.
func WriteOnly() Option {
	return func(d *Doc) { d.Access = AccessWriteOnly }
}

// Range bounds the values accepted by SetNextWriteValue.
func Range(min, max float64) Option {
	return func(d *Doc) {
		d.Min = min
		d.Max = max
		d.Bounded = true
	}
}

// Maybe is an optionally defined channel value.
type Maybe[T Primitive] struct {
	Value   T
	Defined bool
}

// Some returns a defined Maybe.
func Some[T Primitive](v T) Maybe[T] {
	return Maybe[T]{Value: v, Defined: true}
}

// Get returns the value and whether it is defined.
func (m Maybe[T]) Get() (T, bool) { return m.Value, m.Defined }

// OrElse returns the value or def when undefined.
func (m Maybe[T]) OrElse(def T) T {
	if m.Defined {
		return m.Value
	}
	return def
}

func (m Maybe[T]) String() string {
	if !m.Defined {
		return "UNDEFINED"
	}
	return fmt.Sprint(m.Value)
}

// ToFloat64 converts a numeric or boolean value to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// FromFloat64 converts f to T. Integer targets are rounded and must fit.
func FromFloat64[T Primitive](f float64) (T, error) {
	var out T
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return out, fmt.Errorf("%w: %v", ErrValueType, f)
	}
	switch p := any(&out).(type) {
	case *bool:
		*p = f != 0
	case *int16:
		r := math.Round(f)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return out, fmt.Errorf("%w: %v overflows int16", ErrOutOfRange, f)
		}
		*p = int16(r)
	case *int32:
		r := math.Round(f)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return out, fmt.Errorf("%w: %v overflows int32", ErrOutOfRange, f)
		}
		*p = int32(r)
	case *int64:
		*p = int64(math.Round(f))
	case *float32:
		*p = float32(f)
	case *float64:
		*p = f
	case *string:
		*p = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return out, nil
}

// Convert coerces an arbitrary decoded value (e.g. from JSON) to T.
func Convert[T Primitive](v any) (T, error) {
	var out T
	if t, ok := v.(T); ok {
		return t, nil
	}
	switch p := any(&out).(type) {
	case *string:
		*p = fmt.Sprint(v)
		return out, nil
	case *bool:
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return out, fmt.Errorf("%w: %q", ErrValueType, s)
			}
			*p = b
			return out, nil
		}
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrValueType, s)
		}
		return FromFloat64[T](f)
	}
	f, ok := ToFloat64(v)
	if !ok {
		return out, fmt.Errorf("%w: %T", ErrValueType, v)
	}
	return FromFloat64[T](f)
}
