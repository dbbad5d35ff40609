package devices

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/bridge"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
)

var ErrUnknownFactory = errors.New("unknown component factory")

// Env gives factories access to shared infrastructure.
type Env struct {
	Logger   *zap.Logger
	Bridges  *bridge.Registry
	Registry *component.Registry
	Loader   *ProfileLoader
	Composer *Composer
}

// Factory builds an inactive component from its configuration.
type Factory func(env Env, cfg config.ComponentConfig) (component.Component, error)

// ComponentStatus is the activation state of one configured component.
type ComponentStatus struct {
	ID      string `json:"id"`
	Factory string `json:"factory"`
	Active  bool   `json:"active"`
	Error   string `json:"error,omitempty"`
}

type instance struct {
	cfg       config.ComponentConfig
	component component.Component
	err       error
}

// Manager creates, activates and deactivates components from configuration.
// A component whose configuration failed stays inactive and is retried only
// when its configuration changes.
type Manager struct {
	env       Env
	factories map[string]Factory

	mu        sync.Mutex
	instances map[string]*instance
	order     []string
}

func NewManager(env Env) *Manager {
	m := &Manager{
		env:       env,
		factories: make(map[string]Factory),
		instances: make(map[string]*instance),
	}
	m.RegisterFactory("profile", ProfileFactory)
	m.RegisterFactory("relay", RelayFactory)
	return m
}

// RegisterFactory makes a driver available under name.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.mu.Lock()
	m.factories[name] = f
	m.mu.Unlock()
}

// Factories returns the registered factory names.
func (m *Manager) Factories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.factories))
	for name := range m.factories {
		out = append(out, name)
	}
	return out
}

// Apply brings the running components in line with cfgs. Unchanged
// components are left alone; removed or changed ones are deactivated; new or
// changed ones are created and activated in configuration order.
func (m *Manager) Apply(ctx context.Context, cfgs []config.ComponentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]config.ComponentConfig, len(cfgs))
	for _, c := range cfgs {
		if !c.Disabled {
			wanted[c.ID] = c
		}
	}

	// tear down in reverse order
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		inst := m.instances[id]
		if c, ok := wanted[id]; ok && reflect.DeepEqual(c, inst.cfg) {
			continue
		}
		m.stopLocked(id, inst)
	}

	var errs []error
	m.order = m.order[:0]
	for _, c := range cfgs {
		if c.Disabled {
			continue
		}
		m.order = append(m.order, c.ID)
		if _, ok := m.instances[c.ID]; ok {
			continue
		}

		inst := &instance{cfg: c}
		m.instances[c.ID] = inst
		if err := m.startLocked(ctx, inst); err != nil {
			inst.err = err
			errs = append(errs, fmt.Errorf("component %s: %w", c.ID, err))
			m.env.Logger.Error("Component not activated",
				zap.String("component", c.ID),
				zap.String("factory", c.Factory),
				zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) startLocked(ctx context.Context, inst *instance) error {
	f, ok := m.factories[inst.cfg.Factory]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFactory, inst.cfg.Factory)
	}

	c, err := f(m.env, inst.cfg)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := c.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if err := m.env.Registry.Add(c); err != nil {
		_ = c.Deactivate()
		return err
	}

	inst.component = c
	m.env.Logger.Info("Component activated",
		zap.String("component", inst.cfg.ID),
		zap.String("factory", inst.cfg.Factory))
	return nil
}

func (m *Manager) stopLocked(id string, inst *instance) {
	delete(m.instances, id)
	if inst.component == nil {
		return
	}
	m.env.Registry.Remove(id)
	if err := inst.component.Deactivate(); err != nil {
		m.env.Logger.Error("Component deactivation failed",
			zap.String("component", id),
			zap.Error(err))
		return
	}
	m.env.Logger.Info("Component deactivated", zap.String("component", id))
}

// DeactivateAll stops every component in reverse configuration order.
func (m *Manager) DeactivateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		if inst, ok := m.instances[id]; ok {
			m.stopLocked(id, inst)
		}
	}
	m.order = nil
}

// Status reports every configured component in configuration order.
func (m *Manager) Status() []ComponentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ComponentStatus, 0, len(m.order))
	for _, id := range m.order {
		inst := m.instances[id]
		s := ComponentStatus{ID: id, Factory: inst.cfg.Factory, Active: inst.component != nil}
		if inst.err != nil {
			s.Error = inst.err.Error()
		}
		out = append(out, s)
	}
	return out
}

// ProfileFactory builds a ProfileDevice from a named device profile.
func ProfileFactory(env Env, cfg config.ComponentConfig) (component.Component, error) {
	return NewProfileDeviceFromConfig(env, cfg)
}

// NewProfileDeviceFromConfig loads cfg.Profile and builds the device on
// cfg.Bridge. Drivers wrapping a profile device use it as well.
func NewProfileDeviceFromConfig(env Env, cfg config.ComponentConfig) (*ProfileDevice, error) {
	if cfg.Profile == "" {
		return nil, errors.New("profile required")
	}
	worker, err := env.Bridges.Get(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	profile, err := env.Loader.Load(cfg.Profile)
	if err != nil {
		return nil, err
	}
	unitID := cfg.UnitID
	if unitID == 0 {
		unitID = uint8(profile.Connection.UnitID)
	}
	return NewProfileDevice(cfg.ID, cfg.Bridge, unitID, profile, cfg.IOMapping, worker, env.Logger)
}

// RelayFactory composes a profile from a coupler and terminals.
func RelayFactory(env Env, cfg config.ComponentConfig) (component.Component, error) {
	if cfg.Composition == nil {
		return nil, errors.New("composition required")
	}
	worker, err := env.Bridges.Get(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	profile, err := env.Composer.ComposeDevice(cfg.ID, *cfg.Composition)
	if err != nil {
		return nil, err
	}
	if err := env.Loader.Validator().ValidateProfileDefinition(profile); err != nil {
		return nil, err
	}
	unitID := cfg.UnitID
	if unitID == 0 {
		unitID = uint8(cfg.Composition.Coupler.UnitID)
	}
	d, err := NewProfileDevice(cfg.ID, cfg.Bridge, unitID, profile, cfg.IOMapping, worker, env.Logger)
	if err != nil {
		return nil, err
	}
	d.factory = "relay"
	return d, nil
}
