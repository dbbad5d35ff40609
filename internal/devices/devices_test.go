package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

const batteryProfileJSON = `{
  "device_profile": {"id": "generic-battery", "vendor": "Generic", "model": "B1", "version": "1.0"},
  "connection": {"protocol": "modbus_tcp", "unit_id": 3},
  "registers": [
    {"name": "SystemState", "address": 0, "type": "holding_register", "data_type": "uint16", "access": "read_only"},
    {"name": "Soc", "address": 1, "type": "holding_register", "data_type": "uint16", "scale_factor": 0.1, "unit": "%", "access": "read_only"},
    {"name": "ActivePower", "address": 2, "type": "holding_register", "data_type": "int32", "unit": "W", "access": "read_only"},
    {"name": "SerialNumber", "address": 100, "type": "holding_register", "data_type": "uint32", "access": "read_only"},
    {"name": "Temperature", "address": 200, "type": "input_register", "data_type": "int16", "access": "read_only"},
    {"name": "Setpoint", "address": 300, "type": "holding_register", "data_type": "int32", "unit": "W", "access": "read_write", "min": -5000, "max": 5000},
    {"name": "Contactor", "address": 10, "type": "coil", "data_type": "bool", "access": "write_only"}
  ],
  "register_groups": [
    {"name": "fast", "priority": "high", "registers": ["SystemState", "Soc", "ActivePower"]},
    {"name": "ident", "priority": "once", "registers": ["SerialNumber"]}
  ]
}`

const meterProfileYAML = `
device_profile:
  id: meter
  vendor: Generic
  model: M1
  version: "1.0"
connection:
  protocol: modbus_rtu
  unit_id: 1
registers:
  - name: Power
    address: 0
    type: input_register
    data_type: float32
    word_order: lsw
    unit: W
    access: read_only
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type sink struct{ mm *task.MetaManager }

func (s sink) Tasks() *task.MetaManager { return s.mm }

func TestLoaderJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "generic-battery.json", batteryProfileJSON)
	writeFile(t, dir, "meters/meter.yaml", meterProfileYAML)

	l, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	p, err := l.Load("generic-battery")
	require.NoError(t, err)
	assert.Equal(t, "generic-battery", p.DeviceProfile.ID)
	assert.Len(t, p.Registers, 7)
	require.NotNil(t, p.Registers[5].Max)
	assert.Equal(t, 5000.0, *p.Registers[5].Max)

	m, err := l.Load("meters/meter")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeFloat32, m.Registers[0].DataType)
	assert.Equal(t, "lsw", m.Registers[0].WordOrder)

	again, err := l.Load("generic-battery")
	require.NoError(t, err)
	assert.Same(t, p, again)

	assert.Equal(t, []string{"generic-battery", "meters/meter"}, l.Available())

	_, err = l.Load("missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestLoaderRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `{
	  "device_profile": {"id": "bad", "vendor": "x", "model": "y", "version": "1"},
	  "connection": {"protocol": "modbus_tcp", "unit_id": 1},
	  "registers": [{"name": "a/b", "address": 0, "type": "holding_register", "data_type": "uint8", "access": "read_only"}]
	}`)

	l, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)
	_, err = l.Load("bad")
	assert.ErrorContains(t, err, "validation failed")
}

func loadBattery(t *testing.T) *types.DeviceProfileDefinition {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "generic-battery.json", batteryProfileJSON)
	l, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)
	p, err := l.Load("generic-battery")
	require.NoError(t, err)
	return p
}

func TestProfileDeviceBuildsTasks(t *testing.T) {
	s := sink{mm: task.NewMetaManager()}
	d, err := NewProfileDevice("ess0", "bus0", 3, loadBattery(t),
		map[string]string{"system_state": "SystemState", "active_power_setpoint": "Setpoint"}, s, zap.NewNop())
	require.NoError(t, err)

	var high, low, once, writes int
	for _, tk := range d.Tasks() {
		switch {
		case tk.Op == task.OpWrite:
			writes++
			assert.Equal(t, task.PriorityHigh, tk.Priority)
		case tk.Priority == task.PriorityHigh:
			high++
			assert.Equal(t, uint16(0), tk.Address)
			assert.Equal(t, uint16(4), tk.Quantity())
		case tk.Priority == task.PriorityLow:
			low++
		case tk.Priority == task.PriorityOnce:
			once++
		}
		assert.Equal(t, uint8(3), tk.UnitID)
	}
	assert.Equal(t, 1, high)
	assert.Equal(t, 2, low, "ungrouped readable registers get their own LOW task")
	assert.Equal(t, 1, once)
	assert.Equal(t, 2, writes)

	sp, err := LogicalFloat(d, "active_power_setpoint")
	require.NoError(t, err)
	assert.ErrorIs(t, sp.SetNextWriteValue(6000), channel.ErrOutOfRange)
	assert.NoError(t, sp.SetNextWriteValue(-2000))

	_, err = LogicalBool(d, "system_state")
	assert.ErrorIs(t, err, channel.ErrValueType)
	_, err = d.Logical("soc")
	assert.ErrorIs(t, err, ErrNotMapped)

	contactor, ok := d.Channel("Contactor")
	require.True(t, ok)
	assert.Equal(t, channel.TypeBoolean, contactor.Type())
	assert.Equal(t, channel.AccessWriteOnly, contactor.Doc().Access)
}

func TestProfileDeviceActivation(t *testing.T) {
	s := sink{mm: task.NewMetaManager()}
	d, err := NewProfileDevice("ess0", "bus0", 3, loadBattery(t), nil, s, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Activate(context.Background()))
	assert.Equal(t, []string{"ess0"}, s.mm.Keys())
	assert.Len(t, s.mm.AllTasks(task.PriorityOnce), 1)

	sp, _ := d.Channel("Setpoint")
	require.NoError(t, sp.SetNextWriteAny(100))

	require.NoError(t, d.Deactivate())
	assert.Empty(t, s.mm.Keys())
	_, pending := sp.AnyPendingWrite()
	assert.False(t, pending)

	// ONCE tasks run again after re-activation
	require.NoError(t, d.Activate(context.Background()))
	assert.Len(t, s.mm.AllTasks(task.PriorityOnce), 1)
}

func TestProfileDeviceRejectsBadMapping(t *testing.T) {
	s := sink{mm: task.NewMetaManager()}
	_, err := NewProfileDevice("ess0", "bus0", 3, loadBattery(t), map[string]string{"soc": "StateOfCharge"}, s, zap.NewNop())
	assert.ErrorContains(t, err, "not in profile")
}

func TestProfileDeviceRejectsMixedGroup(t *testing.T) {
	p := loadBattery(t)
	p.Groups = append(p.Groups, types.RegisterGroup{Name: "mixed", Registers: []string{"Soc", "Temperature"}})

	_, err := NewProfileDevice("ess0", "bus0", 3, p, nil, sink{mm: task.NewMetaManager()}, zap.NewNop())
	assert.ErrorContains(t, err, "group mixed")
}

func TestComposer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "modules/BK9000.json", `{
	  "module": {"id": "BK9000", "vendor": "Beckhoff", "model": "BK9000", "type": "coupler", "version": "1"},
	  "process_image": {},
	  "channels": [],
	  "registers": [{"name": "CouplerStatus", "address": 4096, "type": "input_register", "data_type": "uint16", "access": "read_only"}]
	}`)
	writeFile(t, dir, "modules/KL1408.json", `{
	  "module": {"id": "KL1408", "vendor": "Beckhoff", "model": "KL1408", "type": "input", "version": "1"},
	  "process_image": {"input_bits": 8},
	  "channels": [{"id": 0, "name": "DI1", "type": "digital_input"}, {"id": 1, "name": "DI2", "type": "digital_input"}]
	}`)
	writeFile(t, dir, "modules/KL2408.json", `{
	  "module": {"id": "KL2408", "vendor": "Beckhoff", "model": "KL2408", "type": "output", "version": "1"},
	  "process_image": {"output_bits": 8},
	  "channels": [{"id": 0, "name": "Relay1", "type": "digital_output"}, {"id": 3, "name": "Relay4", "type": "digital_output"}]
	}`)

	c := NewComposer([]string{dir}, zap.NewNop())
	p, err := c.ComposeDevice("relay0", types.CompositionConfig{
		Coupler: types.CouplerConfig{Module: "modules/BK9000", UnitID: 1},
		Terminals: []types.TerminalConfig{
			{Position: 1, Module: "modules/KL1408", Prefix: "in"},
			{Position: 2, Module: "modules/KL1408", Prefix: "in2"},
			{Position: 3, Module: "modules/KL2408", Prefix: "out"},
		},
	})
	require.NoError(t, err)

	byName := map[string]types.RegisterDefinition{}
	for _, r := range p.Registers {
		byName[r.Name] = r
	}
	assert.Equal(t, uint16(9), byName["in2.DI2"].Address)
	assert.Equal(t, types.RegisterTypeDiscreteInput, byName["in2.DI2"].Type)
	assert.Equal(t, uint16(3), byName["out.Relay4"].Address)
	assert.Equal(t, types.RegisterTypeCoil, byName["out.Relay4"].Type)

	groups := map[string]types.RegisterGroup{}
	for _, g := range p.Groups {
		groups[g.Name] = g
	}
	assert.Equal(t, "high", groups["io_discrete_input"].Priority)
	assert.Len(t, groups["io_discrete_input"].Registers, 4)
	assert.Equal(t, "low", groups["diagnostics_input_register"].Priority)

	v, err := NewValidator()
	require.NoError(t, err)
	require.NoError(t, v.ValidateProfileDefinition(p))

	d, err := NewProfileDevice("relay0", "bus0", 1, p, map[string]string{"relay_1": "out.Relay1"}, sink{mm: task.NewMetaManager()}, zap.NewNop())
	require.NoError(t, err)
	relay, err := LogicalBool(d, "relay_1")
	require.NoError(t, err)
	assert.NoError(t, relay.SetNextWriteValue(true))
}

type fakeComponent struct {
	*component.Base
	activations *int
}

func (f *fakeComponent) Activate(context.Context) error { *f.activations++; return nil }
func (f *fakeComponent) Deactivate() error              { return nil }

func TestManagerApplyRetriesOnlyOnChange(t *testing.T) {
	reg := component.NewRegistry(zap.NewNop())
	m := NewManager(Env{Logger: zap.NewNop(), Registry: reg})

	created := 0
	activations := 0
	m.RegisterFactory("fake", func(_ Env, cfg config.ComponentConfig) (component.Component, error) {
		created++
		if cfg.Properties["broken"] == true {
			return nil, errors.New("broken config")
		}
		return &fakeComponent{Base: component.NewBase(cfg.ID), activations: &activations}, nil
	})

	cfgs := []config.ComponentConfig{
		{ID: "a", Factory: "fake"},
		{ID: "b", Factory: "fake", Properties: map[string]any{"broken": true}},
		{ID: "c", Factory: "nope"},
	}

	err := m.Apply(context.Background(), cfgs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFactory)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, reg.Len())

	// same configuration: nothing is recreated
	_ = m.Apply(context.Background(), cfgs)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, activations)

	status := m.Status()
	require.Len(t, status, 3)
	assert.True(t, status[0].Active)
	assert.False(t, status[1].Active)
	assert.Contains(t, status[1].Error, "broken config")

	// fixing b recreates only b; removing c drops its status
	cfgs = []config.ComponentConfig{
		{ID: "a", Factory: "fake"},
		{ID: "b", Factory: "fake"},
	}
	require.NoError(t, m.Apply(context.Background(), cfgs))
	assert.Equal(t, 3, created)
	assert.Equal(t, 2, reg.Len())
	assert.Len(t, m.Status(), 2)

	m.DeactivateAll()
	assert.Equal(t, 0, reg.Len())
}
