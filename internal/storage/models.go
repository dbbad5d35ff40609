package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenEnergyCore/internal/config"
)

// ComponentRecord is one stored component configuration.
type ComponentRecord struct {
	ID          uuid.UUID `json:"id"`
	ComponentID string    `json:"component_id"`
	Factory     string    `json:"factory"`
	Enabled     bool      `json:"enabled"`
	Config      []byte    `json:"config"` // JSONB
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newRecord(cfg config.ComponentConfig) (ComponentRecord, error) {
	if cfg.ID == "" {
		return ComponentRecord{}, fmt.Errorf("component id required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ComponentRecord{}, fmt.Errorf("failed to marshal config: %w", err)
	}
	return ComponentRecord{
		ID:          uuid.New(),
		ComponentID: cfg.ID,
		Factory:     cfg.Factory,
		Enabled:     !cfg.Disabled,
		Config:      raw,
	}, nil
}

// ComponentConfig decodes the stored configuration. The row columns win over
// the JSON document.
func (r ComponentRecord) ComponentConfig() (config.ComponentConfig, error) {
	var cfg config.ComponentConfig
	if err := json.Unmarshal(r.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("component %s: failed to unmarshal config: %w", r.ComponentID, err)
	}
	cfg.ID = r.ComponentID
	cfg.Factory = r.Factory
	cfg.Disabled = !r.Enabled
	return cfg, nil
}

// MergeComponentConfigs overlays stored configurations on the file ones.
// A stored entry replaces the file entry with the same id in place; new ids
// are appended in stored order.
func MergeComponentConfigs(file, stored []config.ComponentConfig) []config.ComponentConfig {
	out := make([]config.ComponentConfig, len(file))
	copy(out, file)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ID] = i
	}
	for _, c := range stored {
		if i, ok := index[c.ID]; ok {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
