package battery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

type sink struct{ mm *task.MetaManager }

func (s sink) Tasks() *task.MetaManager { return s.mm }

func ptr(f float64) *float64 { return &f }

func testProfile() *types.DeviceProfileDefinition {
	return &types.DeviceProfileDefinition{
		DeviceProfile: types.DeviceProfileInfo{ID: "test-battery", Vendor: "Test", Model: "T1", Version: "1.0"},
		Connection:    types.ConnectionConfig{Protocol: "modbus_tcp", UnitID: 1},
		Registers: []types.RegisterDefinition{
			{Name: "SystemState", Address: 0, Type: types.RegisterTypeHoldingRegister, DataType: types.DataTypeUint16, Access: types.AccessTypeReadOnly},
			{Name: "FaultCode", Address: 1, Type: types.RegisterTypeHoldingRegister, DataType: types.DataTypeUint16, Access: types.AccessTypeReadOnly},
			{Name: "StartStop", Address: 10, Type: types.RegisterTypeHoldingRegister, DataType: types.DataTypeUint16, Access: types.AccessTypeReadWrite},
			{Name: "Setpoint", Address: 11, Type: types.RegisterTypeHoldingRegister, DataType: types.DataTypeInt32, Unit: "W", Access: types.AccessTypeReadWrite, Min: ptr(-10000), Max: ptr(10000)},
			{Name: "ClearFault", Address: 0, Type: types.RegisterTypeCoil, DataType: types.DataTypeBool, Access: types.AccessTypeWriteOnly},
		},
		Groups: []types.RegisterGroup{
			{Name: "status", Priority: "high", Registers: []string{"SystemState", "FaultCode"}},
		},
	}
}

var mapping = map[string]string{
	SystemState:         "SystemState",
	StartStop:           "StartStop",
	ActivePowerSetpoint: "Setpoint",
	FaultCode:           "FaultCode",
	ClearFault:          "ClearFault",
}

type harness struct {
	t   *testing.T
	b   *Battery
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev, err := devices.NewProfileDevice("ess0", "modbus0", 1, testProfile(), mapping, sink{task.NewMetaManager()}, zap.NewNop())
	require.NoError(t, err)

	props := DefaultProperties()
	props.MaxPower = 5000
	props.StartTimeout = 10 * time.Second
	props.StopTimeout = 10 * time.Second
	props.ErrorCooldown = 5 * time.Second

	h := &harness{t: t, now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.b, err = New(dev, props, zap.NewNop(), WithClock(func() time.Time { return h.now }))
	require.NoError(t, err)
	require.NoError(t, h.b.Activate(context.Background()))

	h.device("SystemState", 0)
	h.device("FaultCode", 0)
	require.NoError(t, h.b.Image().Promote())
	return h
}

// device simulates a value read from the bus.
func (h *harness) device(reg string, v float64) {
	ch, ok := h.b.Channel(reg)
	require.True(h.t, ok)
	ch.(*channel.Channel[float64]).SetNextValue(v)
}

// tick runs the driver and promotes the image, one second per cycle.
func (h *harness) tick() State {
	h.now = h.now.Add(time.Second)
	require.NoError(h.t, h.b.Run(context.Background()))
	require.NoError(h.t, h.b.Image().Promote())
	return h.b.State()
}

func (h *harness) pending(reg string) (any, bool) {
	ch, ok := h.b.Channel(reg)
	require.True(h.t, ok)
	return ch.AnyPendingWrite()
}

func (h *harness) clearWrites() {
	for _, reg := range []string{"StartStop", "Setpoint", "ClearFault"} {
		ch, _ := h.b.Channel(reg)
		ch.DiscardNextWrite()
	}
}

func TestStartupAndSetpointForwarding(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, StateGoRunning, h.tick())
	assert.Equal(t, StateGoRunning, h.tick())
	v, ok := h.pending("StartStop")
	require.True(t, ok)
	assert.Equal(t, float64(1), v)

	h.device("SystemState", 1)
	require.NoError(t, h.b.Image().Promote())
	assert.Equal(t, StateRunning, h.tick())

	require.NoError(t, h.b.ApplyActivePower(3000))
	assert.Equal(t, StateRunning, h.tick())
	v, ok = h.pending("Setpoint")
	require.True(t, ok)
	assert.Equal(t, float64(3000), v)

	sm, ok := h.b.Image().Channel("StateMachine")
	require.True(t, ok)
	got, _ := sm.AnyValue()
	assert.Equal(t, int32(StateRunning), got)
	assert.Equal(t, component.LevelOK, h.b.Level())
}

func TestSetpointOutsideMaxPowerRejected(t *testing.T) {
	h := newHarness(t)
	err := h.b.ApplyActivePower(6000)
	assert.ErrorIs(t, err, channel.ErrOutOfRange)
}

func TestSetpointNotForwardedUnlessRunning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.b.ApplyActivePower(1000))
	assert.Equal(t, StateGoRunning, h.tick())
	_, ok := h.pending("Setpoint")
	assert.False(t, ok)
}

func TestFaultInRunningGoesToErrorNotGoStopped(t *testing.T) {
	h := newHarness(t)
	var path []State
	h.b.OnStateChange(func(_, to State) { path = append(path, to) })

	h.tick()
	h.device("SystemState", 1)
	require.NoError(t, h.b.Image().Promote())
	require.Equal(t, StateRunning, h.tick())
	h.clearWrites()

	h.device("FaultCode", 42)
	require.NoError(t, h.b.Image().Promote())
	assert.Equal(t, StateError, h.tick())

	// entry of ERROR: safe outputs and clear fault
	assert.Equal(t, StateError, h.tick())
	v, ok := h.pending("Setpoint")
	require.True(t, ok)
	assert.Equal(t, float64(0), v)
	v, ok = h.pending("StartStop")
	require.True(t, ok)
	assert.Equal(t, float64(0), v)
	v, ok = h.pending("ClearFault")
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Equal(t, component.LevelFault, h.b.Level())

	h.device("FaultCode", 0)
	require.NoError(t, h.b.Image().Promote())
	for i := 0; i < 4; i++ {
		assert.Equal(t, StateError, h.tick())
	}
	assert.Equal(t, StateUndefined, h.tick())

	assert.NotContains(t, path, StateGoStopped)
	assert.Equal(t, []State{StateGoRunning, StateRunning, StateError, StateUndefined}, path)
}

func TestStartTimeout(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateGoRunning, h.tick())
	// entered on the second tick; the timeout is exceeded 11s later
	for i := 0; i < 11; i++ {
		assert.Equal(t, StateGoRunning, h.tick())
	}
	assert.Equal(t, StateError, h.tick())
}

func TestStopRequest(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.device("SystemState", 1)
	require.NoError(t, h.b.Image().Promote())
	require.Equal(t, StateRunning, h.tick())

	req, ok := h.b.Image().Channel("StartStopRequest")
	require.True(t, ok)
	require.NoError(t, req.SetNextWriteAny(int32(TargetStop)))
	assert.Equal(t, StateGoStopped, h.tick())

	assert.Equal(t, StateGoStopped, h.tick())
	v, ok := h.pending("Setpoint")
	require.True(t, ok)
	assert.Equal(t, float64(0), v)

	h.device("SystemState", 0)
	require.NoError(t, h.b.Image().Promote())
	assert.Equal(t, StateStopped, h.tick())
	assert.Equal(t, StateStopped, h.tick())
}

func TestStateSequenceIsDeterministic(t *testing.T) {
	run := func() []State {
		h := newHarness(t)
		var out []State
		inputs := []struct{ state, fault float64 }{
			{0, 0}, {0, 0}, {1, 0}, {1, 0}, {1, 7}, {1, 0}, {0, 0}, {0, 0},
		}
		for _, in := range inputs {
			h.device("SystemState", in.state)
			h.device("FaultCode", in.fault)
			require.NoError(t, h.b.Image().Promote())
			out = append(out, h.tick())
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestNewRequiresMapping(t *testing.T) {
	m := map[string]string{SystemState: "SystemState"}
	dev, err := devices.NewProfileDevice("ess1", "modbus0", 1, testProfile(), m, sink{task.NewMetaManager()}, zap.NewNop())
	require.NoError(t, err)

	props := DefaultProperties()
	props.MaxPower = 1000
	_, err = New(dev, props, zap.NewNop())
	assert.ErrorIs(t, err, devices.ErrNotMapped)
}

func TestNewRejectsBadProperties(t *testing.T) {
	dev, err := devices.NewProfileDevice("ess2", "modbus0", 1, testProfile(), mapping, sink{task.NewMetaManager()}, zap.NewNop())
	require.NoError(t, err)

	props := DefaultProperties()
	_, err = New(dev, props, zap.NewNop())
	assert.Error(t, err, "max_power is required")

	props.MaxPower = 1000
	props.StartStop = "sideways"
	_, err = New(dev, props, zap.NewNop())
	assert.Error(t, err)
}
