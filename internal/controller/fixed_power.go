package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
)

var ErrNotPowerSettable = errors.New("component does not accept active power")

// PowerSettable is implemented by components accepting an active power
// request for the current cycle.
type PowerSettable interface {
	component.Component
	ApplyActivePower(w float64) error
}

// Lookup resolves component ids. component.Registry satisfies it.
type Lookup interface {
	Get(id string) (component.Component, bool)
}

type FixedPowerProperties struct {
	Target string  `mapstructure:"target"`
	Power  float64 `mapstructure:"power"`
}

// FixedPower requests a constant active power on its target every cycle.
// The requested value is exposed as a writable channel so it can be changed
// at runtime.
type FixedPower struct {
	*component.Base

	target string
	lookup Lookup
	logger *zap.Logger

	power *channel.Channel[float64]
}

func NewFixedPower(id string, props FixedPowerProperties, lookup Lookup, logger *zap.Logger) (*FixedPower, error) {
	if props.Target == "" {
		return nil, errors.New("target required")
	}
	c := &FixedPower{
		Base:   component.NewBase(id),
		target: props.Target,
		lookup: lookup,
		logger: logger.With(zap.String("component", id)),
	}
	c.power = channel.Register[float64](c.Image(), "ActivePower",
		channel.Unit("W"), channel.Writable(), channel.Text("requested active power"))
	c.power.SetNextValue(props.Power)
	return c, nil
}

// FixedPowerFactory builds the controller from configuration.
func FixedPowerFactory(env devices.Env, cfg config.ComponentConfig) (component.Component, error) {
	var props FixedPowerProperties
	if err := config.DecodeProperties(cfg.Properties, &props); err != nil {
		return nil, err
	}
	return NewFixedPower(cfg.ID, props, env.Registry, env.Logger)
}

func (c *FixedPower) Activate(context.Context) error {
	c.logger.Info("Controller activated",
		zap.String("target", c.target),
		zap.Float64("power", c.power.NextValue().Value))
	return nil
}

func (c *FixedPower) Deactivate() error {
	c.power.DiscardNextWrite()
	return nil
}

func (c *FixedPower) Factory() string { return "fixed_power" }

func (c *FixedPower) Describe() map[string]any {
	return map[string]any{
		"target": c.target,
		"power":  c.power.Get().String(),
	}
}

// Run applies the requested power to the target. A missing target or a
// rejected setpoint raises a fault and is returned to the executor.
func (c *FixedPower) Run(context.Context) error {
	if w, ok := c.power.NextWriteValueAndReset(); ok {
		c.power.SetNextValue(w)
		c.logger.Info("Power request changed", zap.Float64("power", w))
	}
	w, ok := c.power.NextValue().Get()
	if !ok {
		return nil
	}

	target, err := c.resolve()
	if err != nil {
		c.Raise("target", component.LevelFault)
		return err
	}
	if err := target.ApplyActivePower(w); err != nil {
		c.Raise("target", component.LevelFault)
		return fmt.Errorf("apply %v W to %s: %w", w, c.target, err)
	}
	c.Clear("target")
	return nil
}

func (c *FixedPower) resolve() (PowerSettable, error) {
	comp, ok := c.lookup.Get(c.target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrUnknownComponent, c.target)
	}
	ps, ok := comp.(PowerSettable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPowerSettable, c.target)
	}
	return ps, nil
}
