package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

func TestDecodeRegisters(t *testing.T) {
	tests := []struct {
		name  string
		raw   []byte
		dt    types.DataType
		scale float64
		order WordOrder
		want  float64
	}{
		{"uint16", []byte{0x01, 0x2C}, types.DataTypeUint16, 1, WordOrderHighFirst, 300},
		{"int16 negative scaled", []byte{0xFF, 0x38}, types.DataTypeInt16, 0.1, WordOrderHighFirst, -20},
		{"uint32", []byte{0x00, 0x01, 0x00, 0x02}, types.DataTypeUint32, 1, WordOrderHighFirst, 65538},
		{"int32 low word first", []byte{0xFF, 0xFE, 0xFF, 0xFF}, types.DataTypeInt32, 1, WordOrderLowFirst, -2},
		{"float32", []byte{0x42, 0x48, 0x00, 0x00}, types.DataTypeFloat32, 1, WordOrderHighFirst, 50},
		{"bool", []byte{0x00, 0x01}, types.DataTypeBool, 1, WordOrderHighFirst, 1},
		{"zero scale means one", []byte{0x00, 0x07}, types.DataTypeUint16, 0, WordOrderHighFirst, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRegisters(tt.raw, tt.dt, tt.scale, tt.order)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDecodeRegistersShortData(t *testing.T) {
	_, err := DecodeRegisters([]byte{0x00, 0x01}, types.DataTypeUint32, 1, WordOrderHighFirst)
	assert.Error(t, err)
}

func TestEncodeRegisters(t *testing.T) {
	b, err := EncodeRegisters(-1500, types.DataTypeInt16, 1, WordOrderHighFirst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFA, 0x24}, b)

	b, err = EncodeRegisters(65538, types.DataTypeUint32, 1, WordOrderLowFirst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x01}, b)

	b, err = EncodeRegisters(-20, types.DataTypeInt16, 0.1, WordOrderHighFirst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x38}, b)

	_, err = EncodeRegisters(70000, types.DataTypeUint16, 1, WordOrderHighFirst)
	assert.Error(t, err)
	_, err = EncodeRegisters(-1, types.DataTypeUint16, 1, WordOrderHighFirst)
	assert.Error(t, err)
}

func TestRegisterElementDecodeAtOffset(t *testing.T) {
	img := channel.NewProcessImage("meter0")
	power := NewRegister(2, types.DataTypeInt32, 1, WordOrderHighFirst,
		channel.Register[float64](img, "ActivePower", channel.Unit("W")))

	// task starts at 0: words 0 and 1 belong to other elements
	raw := []byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0x9C}
	require.NoError(t, power.Decode(raw, 2))
	require.NoError(t, img.Promote())

	v, ok := power.ch.Value()
	assert.True(t, ok)
	assert.Equal(t, -100.0, v)
	assert.Equal(t, uint16(2), power.Width())
}

func TestRegisterElementEncodeConsumesWrite(t *testing.T) {
	img := channel.NewProcessImage("ess0")
	sp := NewRegister(10, types.DataTypeInt16, 10, WordOrderHighFirst,
		channel.Register[float64](img, "SetActivePower", channel.Writable()))

	_, ok, err := sp.Encode()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sp.ch.SetNextWriteValue(2500))
	b, ok, err := sp.Encode()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xFA}, b)

	_, ok, _ = sp.Encode()
	assert.False(t, ok)
}

func TestBitElement(t *testing.T) {
	img := channel.NewProcessImage("relay0")
	b := NewBit(9, channel.Register[bool](img, "Relay1", channel.Writable()))

	// bit 9 relative to task start is byte 1, bit 1
	require.NoError(t, b.Decode([]byte{0x00, 0x02}, 9))
	require.NoError(t, img.Promote())
	assert.True(t, b.ch.OrElse(false))

	assert.Error(t, b.Decode([]byte{0x00}, 9))

	require.NoError(t, b.ch.SetNextWriteValue(false))
	payload, ok, err := b.Encode()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0}, payload)
}

func TestParseWordOrder(t *testing.T) {
	o, err := ParseWordOrder("lsw")
	require.NoError(t, err)
	assert.Equal(t, WordOrderLowFirst, o)

	o, err = ParseWordOrder("")
	require.NoError(t, err)
	assert.Equal(t, WordOrderHighFirst, o)

	_, err = ParseWordOrder("middle")
	assert.Error(t, err)
}
