package modbus

import (
	"context"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

type call struct {
	fn       string
	address  uint16
	quantity uint16
	value    []byte
	slave    uint8
}

// fakeClient records requests. Methods not overridden panic through the nil
// embedded interface.
type fakeClient struct {
	modbus.Client
	slave uint8
	calls []call
	data  []byte
}

func (f *fakeClient) record(fn string, addr, qty uint16, v []byte) {
	f.calls = append(f.calls, call{fn: fn, address: addr, quantity: qty, value: v, slave: f.slave})
}

func (f *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.record("read_holding", address, quantity, nil)
	return f.data, nil
}

func (f *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.record("read_input", address, quantity, nil)
	return f.data, nil
}

func (f *fakeClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	f.record("read_coils", address, quantity, nil)
	return f.data, nil
}

func (f *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	f.record("write_single", address, 1, []byte{byte(value >> 8), byte(value)})
	return nil, nil
}

func (f *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.record("write_multiple", address, quantity, value)
	return nil, nil
}

func (f *fakeClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	f.record("write_coil", address, 1, []byte{byte(value >> 8), byte(value)})
	return nil, nil
}

func newFake() (*fakeClient, *Transport) {
	f := &fakeClient{}
	return f, newTransportWithClient(f, func(id uint8) { f.slave = id })
}

func TestTransportReadUsesTaskRange(t *testing.T) {
	f, tr := newFake()
	f.data = []byte{0, 1, 0, 2, 0, 3}

	img := channel.NewProcessImage("meter0")
	tk := task.NewRead("meter0", 7, task.FunctionInputRegisters, task.PriorityHigh,
		NewRegister(30, types.DataTypeUint16, 1, WordOrderHighFirst, channel.Register[float64](img, "A")),
		NewRegister(31, types.DataTypeUint32, 1, WordOrderHighFirst, channel.Register[float64](img, "B")),
	)

	raw, err := tr.Read(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, f.data, raw)
	require.Len(t, f.calls, 1)
	assert.Equal(t, call{fn: "read_input", address: 30, quantity: 3, slave: 7}, f.calls[0])
}

func TestTransportWriteSelectsFunction(t *testing.T) {
	f, tr := newFake()
	img := channel.NewProcessImage("ess0")

	regs := task.NewWrite("ess0", 3, task.FunctionHoldingRegisters,
		NewRegister(100, types.DataTypeInt16, 1, WordOrderHighFirst, channel.Register[float64](img, "A", channel.Writable())))
	require.NoError(t, tr.Write(context.Background(), regs, 100, []byte{0x00, 0x05}))
	require.NoError(t, tr.Write(context.Background(), regs, 102, []byte{0, 1, 0, 2}))

	coils := task.NewWrite("ess0", 3, task.FunctionCoils, NewBit(4, channel.Register[bool](img, "C", channel.Writable())))
	require.NoError(t, tr.Write(context.Background(), coils, 4, []byte{1}))

	require.Len(t, f.calls, 3)
	assert.Equal(t, "write_single", f.calls[0].fn)
	assert.Equal(t, []byte{0x00, 0x05}, f.calls[0].value)
	assert.Equal(t, call{fn: "write_multiple", address: 102, quantity: 2, value: []byte{0, 1, 0, 2}, slave: 3}, f.calls[1])
	assert.Equal(t, []byte{0xFF, 0x00}, f.calls[2].value)

	inputs := task.NewWrite("ess0", 3, task.FunctionInputRegisters)
	assert.ErrorIs(t, tr.Write(context.Background(), inputs, 1, []byte{0, 1}), ErrReadOnlyFunction)
}

func TestTransportHonoursCancelledContext(t *testing.T) {
	f, tr := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Read(ctx, task.NewRead("x", 1, task.FunctionCoils, task.PriorityLow))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls)
}

func TestNewTransportValidatesConfig(t *testing.T) {
	_, err := NewTransport(TransportConfig{Protocol: "tcp"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewTransport(TransportConfig{Protocol: "ascii", Address: "x"}, zap.NewNop())
	assert.Error(t, err)

	tr, err := NewTransport(TransportConfig{Protocol: "tcp", Address: "127.0.0.1:502"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, tr.Close())
}
