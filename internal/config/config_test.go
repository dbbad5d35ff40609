package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
cycle:
  cycle_time: 500ms
  order: [ctrl0, ess0]
bridges:
  - id: bus0
    protocol: tcp
    address: 192.168.1.20:502
    invalidate_after: 3
components:
  - id: ess0
    factory: battery
    bridge: bus0
    unit_id: 1
    profile: generic-battery
    io_mapping:
      system_state: SystemState
    properties:
      max_power: "5000"
      start_stop: start
  - id: relay0
    factory: relay
    bridge: bus0
    composition:
      coupler:
        module: BK9000
        ip_address: 192.168.1.30
        port: 502
        unit_id: 1
      terminals:
        - position: 1
          module: KL2408
          prefix: out
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Cycle.CycleTime)
	assert.Equal(t, 400*time.Millisecond, cfg.Cycle.PhaseTimeout)
	assert.Equal(t, []string{"ctrl0", "ess0"}, cfg.Cycle.Order)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	b, ok := cfg.Bridge("bus0")
	require.True(t, ok)
	assert.Equal(t, 3, b.InvalidateAfter)

	require.Len(t, cfg.Components, 2)
	ess := cfg.Components[0]
	assert.Equal(t, "battery", ess.Factory)
	assert.Equal(t, uint8(1), ess.UnitID)
	assert.Equal(t, "SystemState", ess.IOMapping["system_state"])

	relay := cfg.Components[1]
	require.NotNil(t, relay.Composition)
	assert.Equal(t, "192.168.1.30", relay.Composition.Coupler.IPAddress)
	assert.Equal(t, "KL2408", relay.Composition.Terminals[0].Module)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OEC_CYCLE_CYCLE_TIME", "250ms")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Cycle.CycleTime)
}

func TestValidateRejectsBrokenReferences(t *testing.T) {
	cfg := &Config{
		Cycle:   CycleConfig{CycleTime: time.Second},
		Bridges: []BridgeConfig{{ID: "bus0", Protocol: "udp", Address: "x"}},
		Components: []ComponentConfig{
			{ID: "ess0", Factory: "battery", Bridge: "bus9"},
			{ID: "ess0", Factory: "battery"},
			{ID: "a/b"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, msg := range []string{
		`unsupported protocol "udp"`,
		`unknown bridge "bus9"`,
		`duplicate id "ess0"`,
		"must not contain '/'",
		"factory required",
	} {
		assert.ErrorContains(t, err, msg)
	}
}

func TestDecodeProperties(t *testing.T) {
	var props struct {
		MaxPower      float64       `mapstructure:"max_power"`
		StartStop     string        `mapstructure:"start_stop"`
		ErrorCooldown time.Duration `mapstructure:"error_cooldown"`
	}

	err := DecodeProperties(map[string]any{
		"max_power":      "5000",
		"start_stop":     "start",
		"error_cooldown": "30s",
	}, &props)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, props.MaxPower)
	assert.Equal(t, "start", props.StartStop)
	assert.Equal(t, 30*time.Second, props.ErrorCooldown)

	assert.Error(t, DecodeProperties(map[string]any{"max_power": "lots"}, &props))
}
