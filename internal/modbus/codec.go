package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

// WordOrder defines the order of 16-bit words in multi-register values.
type WordOrder int

const (
	// WordOrderHighFirst is the Modbus convention: most significant word first.
	WordOrderHighFirst WordOrder = iota
	WordOrderLowFirst
)

// ParseWordOrder accepts "msw" (default) and "lsw".
func ParseWordOrder(s string) (WordOrder, error) {
	switch s {
	case "", "msw", "big":
		return WordOrderHighFirst, nil
	case "lsw", "little":
		return WordOrderLowFirst, nil
	default:
		return 0, fmt.Errorf("unknown word order %q", s)
	}
}

// RegisterQuantity returns the number of 16-bit registers of a data type.
func RegisterQuantity(dt types.DataType) uint16 {
	switch dt {
	case types.DataTypeBool, types.DataTypeInt16, types.DataTypeUint16:
		return 1
	case types.DataTypeInt32, types.DataTypeUint32, types.DataTypeFloat32:
		return 2
	case types.DataTypeFloat64:
		return 4
	default:
		return 1
	}
}

// orderWords copies b and reverses the word order when needed.
func orderWords(b []byte, order WordOrder) []byte {
	out := append([]byte(nil), b...)
	if order == WordOrderHighFirst {
		return out
	}
	n := len(out) / 2
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		out[2*i], out[2*j] = out[2*j], out[2*i]
		out[2*i+1], out[2*j+1] = out[2*j+1], out[2*i+1]
	}
	return out
}

// DecodeRegisters converts the raw words of one value to a scaled float64.
func DecodeRegisters(raw []byte, dt types.DataType, scale float64, order WordOrder) (float64, error) {
	need := int(RegisterQuantity(dt)) * 2
	if len(raw) < need {
		return 0, fmt.Errorf("short register data: need %d bytes, got %d", need, len(raw))
	}
	if scale == 0 {
		scale = 1.0
	}
	b := orderWords(raw[:need], order)

	var v float64
	switch dt {
	case types.DataTypeBool:
		if binary.BigEndian.Uint16(b) != 0 {
			return 1, nil
		}
		return 0, nil
	case types.DataTypeUint16:
		v = float64(binary.BigEndian.Uint16(b))
	case types.DataTypeInt16:
		v = float64(int16(binary.BigEndian.Uint16(b)))
	case types.DataTypeUint32:
		v = float64(binary.BigEndian.Uint32(b))
	case types.DataTypeInt32:
		v = float64(int32(binary.BigEndian.Uint32(b)))
	case types.DataTypeFloat32:
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case types.DataTypeFloat64:
		v = math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return 0, fmt.Errorf("unsupported data type %q", dt)
	}
	return v * scale, nil
}

// EncodeRegisters converts a scaled value back to register words. Integer
// types are rounded and range checked.
func EncodeRegisters(v float64, dt types.DataType, scale float64, order WordOrder) ([]byte, error) {
	if scale == 0 {
		scale = 1.0
	}
	raw := v / scale

	var b []byte
	switch dt {
	case types.DataTypeBool:
		var w uint16
		if raw != 0 {
			w = 1
		}
		b = binary.BigEndian.AppendUint16(nil, w)
	case types.DataTypeUint16:
		r, err := roundInRange(raw, 0, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint16(nil, uint16(r))
	case types.DataTypeInt16:
		r, err := roundInRange(raw, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint16(nil, uint16(int16(r)))
	case types.DataTypeUint32:
		r, err := roundInRange(raw, 0, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint32(nil, uint32(r))
	case types.DataTypeInt32:
		r, err := roundInRange(raw, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint32(nil, uint32(int32(r)))
	case types.DataTypeFloat32:
		b = binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(raw)))
	case types.DataTypeFloat64:
		b = binary.BigEndian.AppendUint64(nil, math.Float64bits(raw))
	default:
		return nil, fmt.Errorf("unsupported data type %q", dt)
	}
	return orderWords(b, order), nil
}

func roundInRange(v, min, max float64) (float64, error) {
	r := math.Round(v)
	if math.IsNaN(r) || r < min || r > max {
		return 0, fmt.Errorf("value %v does not fit register range [%v, %v]", v, min, max)
	}
	return r, nil
}

// bitAt returns bit n of a packed coil or discrete input payload.
func bitAt(raw []byte, n uint16) (bool, error) {
	i := int(n / 8)
	if i >= len(raw) {
		return false, fmt.Errorf("short bit data: need bit %d, got %d bytes", n, len(raw))
	}
	return raw[i]&(1<<(n%8)) != 0, nil
}
