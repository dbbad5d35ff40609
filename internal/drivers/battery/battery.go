package battery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
	"github.com/KevinKickass/OpenEnergyCore/internal/statemachine"
)

// Logical names the device profile must map.
const (
	SystemState         = "system_state"
	StartStop           = "start_stop"
	ActivePowerSetpoint = "active_power_setpoint"
	FaultCode           = "fault_code"
	ClearFault          = "clear_fault"
)

// Properties are the driver settings from the component configuration.
type Properties struct {
	StartStop     string        `mapstructure:"start_stop"`
	MaxPower      float64       `mapstructure:"max_power"`
	StartTimeout  time.Duration `mapstructure:"start_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	ErrorCooldown time.Duration `mapstructure:"error_cooldown"`

	// device specific encoding of system_state and start_stop
	RunningValue float64 `mapstructure:"running_value"`
	StoppedValue float64 `mapstructure:"stopped_value"`
	StartCommand float64 `mapstructure:"start_command"`
	StopCommand  float64 `mapstructure:"stop_command"`
}

// DefaultProperties returns the defaults applied before decoding.
func DefaultProperties() Properties {
	return Properties{
		StartStop:     "auto",
		StartTimeout:  60 * time.Second,
		StopTimeout:   60 * time.Second,
		ErrorCooldown: 30 * time.Second,
		RunningValue:  1,
		StoppedValue:  0,
		StartCommand:  1,
		StopCommand:   0,
	}
}

// Battery is a managed energy storage component on top of a profile device.
type Battery struct {
	*devices.ProfileDevice

	props   Properties
	target  Target
	logger  *zap.Logger
	now     func() time.Time
	machine *statemachine.Machine[State, *Context]

	systemState channel.Any
	startStop   channel.Any
	setpoint    channel.Any
	faultCode   channel.Any
	clearFaultC channel.Any

	setActivePower *channel.Channel[float64]
	request        *channel.Channel[int32]
	stateMachine   *channel.Channel[int32]

	enteredAt time.Time
}

// Option customises a Battery.
type Option func(*Battery)

// WithClock replaces the time source of the state machine.
func WithClock(now func() time.Time) Option {
	return func(b *Battery) { b.now = now }
}

// New wraps dev. The device must map all required logical names.
func New(dev *devices.ProfileDevice, props Properties, logger *zap.Logger, opts ...Option) (*Battery, error) {
	target, ok := ParseTarget(props.StartStop)
	if !ok {
		return nil, fmt.Errorf("invalid start_stop %q", props.StartStop)
	}
	if props.MaxPower <= 0 {
		return nil, fmt.Errorf("max_power must be positive, got %v", props.MaxPower)
	}

	b := &Battery{
		ProfileDevice: dev,
		props:         props,
		target:        target,
		logger:        logger.With(zap.String("component", dev.ID())),
		now:           time.Now,
		machine:       newMachine(),
	}
	for _, o := range opts {
		o(b)
	}

	var err error
	for name, dst := range map[string]*channel.Any{
		SystemState:         &b.systemState,
		StartStop:           &b.startStop,
		ActivePowerSetpoint: &b.setpoint,
		FaultCode:           &b.faultCode,
		ClearFault:          &b.clearFaultC,
	} {
		if *dst, err = dev.Logical(name); err != nil {
			return nil, err
		}
	}
	for name, ch := range map[string]channel.Any{StartStop: b.startStop, ActivePowerSetpoint: b.setpoint, ClearFault: b.clearFaultC} {
		if !ch.Doc().Access.Writable() {
			return nil, fmt.Errorf("%s: register %s: %w", name, ch.ID(), channel.ErrNotWritable)
		}
	}

	img := dev.Image()
	b.setActivePower = channel.Register[float64](img, "SetActivePower",
		channel.Unit("W"), channel.Writable(), channel.Range(-props.MaxPower, props.MaxPower),
		channel.Text("requested active power; positive discharges"))
	b.request = channel.Register[int32](img, "StartStopRequest",
		channel.Writable(), channel.Range(0, 2), channel.Text("0=auto 1=start 2=stop"))
	b.stateMachine = channel.Register[int32](img, "StateMachine",
		channel.Text("driver state"))

	b.request.SetNextValue(int32(target))
	b.stateMachine.SetNextValue(int32(StateUndefined))

	b.machine.OnTransition(func(from, to State) {
		b.logger.Info("Battery state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})
	return b, nil
}

// Factory builds a battery from configuration.
func Factory(env devices.Env, cfg config.ComponentConfig) (component.Component, error) {
	props := DefaultProperties()
	if err := config.DecodeProperties(cfg.Properties, &props); err != nil {
		return nil, err
	}
	dev, err := devices.NewProfileDeviceFromConfig(env, cfg)
	if err != nil {
		return nil, err
	}
	return New(dev, props, env.Logger)
}

func (b *Battery) Factory() string { return "battery" }

func (b *Battery) Describe() map[string]any {
	d := b.ProfileDevice.Describe()
	d["state"] = b.machine.Current().String()
	d["max_power"] = b.props.MaxPower
	d["target"] = b.target.String()
	return d
}

// State returns the current driver state.
func (b *Battery) State() State { return b.machine.Current() }

// OnStateChange registers fn for driver state transitions.
func (b *Battery) OnStateChange(fn func(from, to State)) {
	b.machine.OnTransition(fn)
}

// ApplyActivePower requests w for the current cycle.
func (b *Battery) ApplyActivePower(w float64) error {
	return b.setActivePower.SetNextWriteValue(w)
}

// Deactivate drops pending power requests and removes the device tasks.
func (b *Battery) Deactivate() error {
	b.setActivePower.DiscardNextWrite()
	b.request.DiscardNextWrite()
	return b.ProfileDevice.Deactivate()
}

// Run executes one state machine tick.
func (b *Battery) Run(_ context.Context) error {
	if v, ok := b.request.NextWriteValueAndReset(); ok {
		b.target = Target(v)
		b.request.SetNextValue(v)
		b.logger.Info("Start/stop request", zap.String("target", b.target.String()))
	}

	c := &Context{Battery: b, Now: b.now(), Target: b.target}
	err := b.machine.Run(c)

	state := b.machine.Current()
	b.stateMachine.SetNextValue(int32(state))

	if state == StateError {
		b.Raise("state", component.LevelFault)
	} else {
		b.Clear("state")
	}
	if !b.systemState.Defined() {
		b.Raise("communication", component.LevelWarning)
	} else {
		b.Clear("communication")
	}
	// requests not consumed by RUNNING are dropped
	b.setActivePower.DiscardNextWrite()
	return err
}

func (b *Battery) isRunning() bool {
	v, ok := floatValue(b.systemState)
	return ok && v == b.props.RunningValue
}

func (b *Battery) isStopped() bool {
	v, ok := floatValue(b.systemState)
	return ok && v == b.props.StoppedValue
}

func (b *Battery) hasFault() bool {
	v, ok := floatValue(b.faultCode)
	return ok && v != 0
}

func (b *Battery) command(v float64) error {
	return b.startStop.SetNextWriteAny(v)
}

// forwardSetpoint passes this cycle's power request to the device.
func (b *Battery) forwardSetpoint() error {
	w, ok := b.setActivePower.NextWriteValueAndReset()
	if !ok {
		return nil
	}
	b.setActivePower.SetNextValue(w)
	return b.setpoint.SetNextWriteAny(w)
}

// safeOutputs commands zero power and stop.
func (b *Battery) safeOutputs() error {
	b.setActivePower.SetNextValue(0)
	if err := b.setpoint.SetNextWriteAny(0); err != nil {
		return err
	}
	return b.command(b.props.StopCommand)
}

func (b *Battery) clearFault() error {
	return b.clearFaultC.SetNextWriteAny(1)
}

func floatValue(ch channel.Any) (float64, bool) {
	v, ok := ch.AnyValue()
	if !ok {
		return 0, false
	}
	return channel.ToFloat64(v)
}

func zapFault(b *Battery) zap.Field {
	v, _ := floatValue(b.faultCode)
	return zap.Float64("fault_code", v)
}
