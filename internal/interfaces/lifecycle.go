package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenEnergyCore/internal/bridge"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string      `json:"state"`
	Error            string      `json:"error,omitempty"`
	ComponentCount   int         `json:"component_count"`
	ActiveComponents int         `json:"active_components"`
	BridgeCount      int         `json:"bridge_count"`
	ConnectedBridges int         `json:"connected_bridges"`
	Cycle            cycle.Stats `json:"cycle"`
}

// ComponentStore persists component configurations.
type ComponentStore interface {
	LoadComponentConfigs(ctx context.Context) ([]config.ComponentConfig, error)
	SaveComponentConfig(ctx context.Context, cfg config.ComponentConfig) (uuid.UUID, error)
	DeleteComponentConfig(ctx context.Context, componentID string) error
}

type LifecycleManager interface {
	Config() *config.Config
	// Store is nil when no database is configured.
	Store() ComponentStore
	Components() *component.Registry
	Bridges() *bridge.Registry
	DeviceManager() *devices.Manager
	ProfileLoader() *devices.ProfileLoader
	CycleStats() cycle.Stats
	GetCurrentStatus() SystemStatus
	Reload(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
