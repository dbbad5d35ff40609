package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/modbus"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

var ErrNotMapped = errors.New("logical name not mapped")

// Maximum items per read request.
const (
	maxRegistersPerRead = 125
	maxBitsPerRead      = 2000
)

// TaskSink is the part of a bridge worker a device registers its tasks with.
type TaskSink interface {
	Tasks() *task.MetaManager
}

// ProfileDevice is a generic component built from a device profile: every
// register becomes a channel, register groups become read tasks and every
// writable register gets a HIGH write task.
type ProfileDevice struct {
	*component.Base

	factory   string
	bridge    string
	unitID    uint8
	profile   *types.DeviceProfileDefinition
	ioMapping map[string]string
	sink      TaskSink
	logger    *zap.Logger

	channels map[string]channel.Any
	tasks    []*task.Task
}

// NewProfileDevice builds the channels and tasks of a device. The device
// registers its tasks with sink on Activate.
func NewProfileDevice(
	id string,
	bridgeID string,
	unitID uint8,
	profile *types.DeviceProfileDefinition,
	ioMapping map[string]string,
	sink TaskSink,
	logger *zap.Logger,
) (*ProfileDevice, error) {
	d := &ProfileDevice{
		Base:      component.NewBase(id),
		factory:   "profile",
		bridge:    bridgeID,
		unitID:    unitID,
		profile:   profile,
		ioMapping: ioMapping,
		sink:      sink,
		logger:    logger.With(zap.String("component", id)),
		channels:  make(map[string]channel.Any),
	}

	if err := d.build(); err != nil {
		return nil, err
	}

	for logical, reg := range ioMapping {
		if _, ok := d.channels[reg]; !ok {
			return nil, fmt.Errorf("io_mapping %s: register %q not in profile %s", logical, reg, profile.DeviceProfile.ID)
		}
	}
	return d, nil
}

func (d *ProfileDevice) build() error {
	elements := make(map[string]task.Element, len(d.profile.Registers))
	defs := make(map[string]types.RegisterDefinition, len(d.profile.Registers))

	for _, reg := range d.profile.Registers {
		if _, dup := defs[reg.Name]; dup {
			return fmt.Errorf("duplicate register %q", reg.Name)
		}
		el, err := d.element(reg)
		if err != nil {
			return fmt.Errorf("register %s: %w", reg.Name, err)
		}
		elements[reg.Name] = el
		defs[reg.Name] = reg
		d.channels[reg.Name] = el.Channel()
	}

	grouped := make(map[string]bool)
	for _, g := range d.profile.Groups {
		t, err := d.groupTask(g, elements, defs)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
		for _, name := range g.Registers {
			grouped[name] = true
		}
		d.tasks = append(d.tasks, t)
	}

	for _, reg := range d.profile.Registers {
		fn := function(reg.Type)
		if reg.Access.Readable() && !grouped[reg.Name] {
			d.tasks = append(d.tasks, task.NewRead(d.ID(), d.unitID, fn, task.PriorityLow, elements[reg.Name]))
		}
		if reg.Access.Writable() {
			if !reg.Type.Writable() {
				return fmt.Errorf("register %s: %s is not writable", reg.Name, reg.Type)
			}
			d.tasks = append(d.tasks, task.NewWrite(d.ID(), d.unitID, fn, elements[reg.Name]))
		}
	}
	return nil
}

func (d *ProfileDevice) element(reg types.RegisterDefinition) (task.Element, error) {
	opts := []channel.Option{channel.Unit(reg.Unit), channel.Text(reg.Description)}
	switch reg.Access {
	case types.AccessTypeReadWrite:
		opts = append(opts, channel.Writable())
	case types.AccessTypeWriteOnly:
		opts = append(opts, channel.WriteOnly())
	}
	if reg.Min != nil || reg.Max != nil {
		lo, hi := -1e308, 1e308
		if reg.Min != nil {
			lo = *reg.Min
		}
		if reg.Max != nil {
			hi = *reg.Max
		}
		opts = append(opts, channel.Range(lo, hi))
	}

	img := d.Image()
	if reg.Type.Bits() {
		return modbus.NewBit(reg.Address, channel.Register[bool](img, reg.Name, opts...)), nil
	}

	order, err := modbus.ParseWordOrder(reg.WordOrder)
	if err != nil {
		return nil, err
	}
	if reg.DataType == types.DataTypeBool {
		return modbus.NewRegister(reg.Address, reg.DataType, 1, order, channel.Register[bool](img, reg.Name, opts...)), nil
	}
	return modbus.NewRegister(reg.Address, reg.DataType, reg.ScaleFactor, order, channel.Register[float64](img, reg.Name, opts...)), nil
}

func (d *ProfileDevice) groupTask(g types.RegisterGroup, elements map[string]task.Element, defs map[string]types.RegisterDefinition) (*task.Task, error) {
	prio, err := task.ParsePriority(g.Priority)
	if err != nil {
		return nil, err
	}

	var regType types.RegisterType
	els := make([]task.Element, 0, len(g.Registers))
	for i, name := range g.Registers {
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("unknown register %q", name)
		}
		if !def.Access.Readable() {
			return nil, fmt.Errorf("register %q is write-only", name)
		}
		if i == 0 {
			regType = def.Type
		} else if def.Type != regType {
			return nil, fmt.Errorf("register %q is %s, group is %s", name, def.Type, regType)
		}
		els = append(els, elements[name])
	}
	sort.Slice(els, func(i, j int) bool { return els[i].Address() < els[j].Address() })

	t := task.NewRead(d.ID(), d.unitID, function(regType), prio, els...).WithSkipCycles(g.SkipCycles)

	limit := uint16(maxRegistersPerRead)
	if regType.Bits() {
		limit = maxBitsPerRead
	}
	if q := t.Quantity(); q > limit {
		return nil, fmt.Errorf("spans %d items, limit is %d", q, limit)
	}
	return t, nil
}

func function(rt types.RegisterType) task.Function {
	switch rt {
	case types.RegisterTypeCoil:
		return task.FunctionCoils
	case types.RegisterTypeDiscreteInput:
		return task.FunctionDiscreteInputs
	case types.RegisterTypeInputRegister:
		return task.FunctionInputRegisters
	default:
		return task.FunctionHoldingRegisters
	}
}

// Activate registers the device's tasks with its bridge. ONCE tasks are
// queued again on every activation.
func (d *ProfileDevice) Activate(context.Context) error {
	d.sink.Tasks().Add(d.ID(), task.NewManager(d.tasks...))
	d.logger.Info("Device activated",
		zap.String("profile", d.profile.DeviceProfile.ID),
		zap.String("bridge", d.bridge),
		zap.Int("tasks", len(d.tasks)))
	return nil
}

// Deactivate removes the tasks and drops all values.
func (d *ProfileDevice) Deactivate() error {
	d.sink.Tasks().Remove(d.ID())
	for _, ch := range d.channels {
		ch.SetNextUndefined()
		ch.DiscardNextWrite()
	}
	d.logger.Info("Device deactivated")
	return nil
}

// Channel returns the channel of a register.
func (d *ProfileDevice) Channel(register string) (channel.Any, bool) {
	ch, ok := d.channels[register]
	return ch, ok
}

// Logical resolves a logical name through the io_mapping.
func (d *ProfileDevice) Logical(name string) (channel.Any, error) {
	reg, ok := d.ioMapping[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMapped, name)
	}
	return d.channels[reg], nil
}

// Tasks returns the tasks built from the profile.
func (d *ProfileDevice) Tasks() []*task.Task { return d.tasks }

func (d *ProfileDevice) Profile() *types.DeviceProfileDefinition { return d.profile }

func (d *ProfileDevice) Factory() string { return d.factory }

func (d *ProfileDevice) Describe() map[string]any {
	return map[string]any{
		"profile":    d.profile.DeviceProfile.ID,
		"vendor":     d.profile.DeviceProfile.Vendor,
		"model":      d.profile.DeviceProfile.Model,
		"bridge":     d.bridge,
		"unit_id":    d.unitID,
		"io_mapping": d.ioMapping,
		"tasks":      len(d.tasks),
	}
}

// LogicalFloat resolves a logical name to a numeric channel.
func LogicalFloat(d *ProfileDevice, name string) (*channel.Channel[float64], error) {
	return logicalAs[float64](d, name)
}

// LogicalBool resolves a logical name to a boolean channel.
func LogicalBool(d *ProfileDevice, name string) (*channel.Channel[bool], error) {
	return logicalAs[bool](d, name)
}

func logicalAs[T channel.Primitive](d *ProfileDevice, name string) (*channel.Channel[T], error) {
	a, err := d.Logical(name)
	if err != nil {
		return nil, err
	}
	ch, ok := a.(*channel.Channel[T])
	if !ok {
		return nil, fmt.Errorf("%s: %w: channel %s is %s", name, channel.ErrValueType, a.ID(), a.Type())
	}
	return ch, nil
}
