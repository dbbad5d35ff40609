package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Log        LogConfig         `mapstructure:"log"`
	Cycle      CycleConfig       `mapstructure:"cycle"`
	Bridges    []BridgeConfig    `mapstructure:"bridges"`
	Components []ComponentConfig `mapstructure:"components"`
	Devices    DevicesConfig     `mapstructure:"device_profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CycleConfig defines the control loop cadence.
type CycleConfig struct {
	CycleTime    time.Duration `mapstructure:"cycle_time"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`
	// Order lists component ids that run first, in this order.
	Order []string `mapstructure:"order"`
}

// BridgeConfig describes one bus and its worker.
type BridgeConfig struct {
	ID              string        `mapstructure:"id"`
	Protocol        string        `mapstructure:"protocol"`
	Address         string        `mapstructure:"address"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BaudRate        int           `mapstructure:"baud_rate"`
	DataBits        int           `mapstructure:"data_bits"`
	StopBits        int           `mapstructure:"stop_bits"`
	Parity          string        `mapstructure:"parity"`
	InvalidateAfter int           `mapstructure:"invalidate_after"`
	OpenRetries     uint64        `mapstructure:"open_retries"`
}

// ComponentConfig is the configuration of one component instance. Factory
// selects the driver; Properties carries driver specific settings.
type ComponentConfig struct {
	ID          string                   `mapstructure:"id" json:"id"`
	Factory     string                   `mapstructure:"factory" json:"factory"`
	Disabled    bool                     `mapstructure:"disabled" json:"disabled,omitempty"`
	Bridge      string                   `mapstructure:"bridge" json:"bridge,omitempty"`
	UnitID      uint8                    `mapstructure:"unit_id" json:"unit_id,omitempty"`
	Profile     string                   `mapstructure:"profile" json:"profile,omitempty"`
	IOMapping   map[string]string        `mapstructure:"io_mapping" json:"io_mapping,omitempty"`
	Composition *types.CompositionConfig `mapstructure:"composition" json:"composition,omitempty"`
	Properties  map[string]any           `mapstructure:"properties" json:"properties,omitempty"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("cycle.cycle_time", "1s")
	v.SetDefault("cycle.phase_timeout", "400ms")
	v.SetDefault("device_profiles.search_paths", []string{"profiles"})

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "OpenEnergyCore")
	v.SetDefault("auth.access_token_ttl", "60m")

	// OEC_CYCLE_CYCLE_TIME overrides cycle.cycle_time
	v.SetEnvPrefix("OEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross references and required fields.
func (c *Config) Validate() error {
	var errs []error

	if c.Cycle.CycleTime <= 0 {
		errs = append(errs, errors.New("cycle.cycle_time must be positive"))
	}
	if c.Cycle.PhaseTimeout < 0 {
		errs = append(errs, errors.New("cycle.phase_timeout must not be negative"))
	}

	bridges := make(map[string]bool)
	for i, b := range c.Bridges {
		switch {
		case b.ID == "":
			errs = append(errs, fmt.Errorf("bridges[%d]: id required", i))
		case bridges[b.ID]:
			errs = append(errs, fmt.Errorf("bridges[%d]: duplicate id %q", i, b.ID))
		}
		bridges[b.ID] = true

		switch b.Protocol {
		case "tcp", "rtu":
		default:
			errs = append(errs, fmt.Errorf("bridge %s: unsupported protocol %q", b.ID, b.Protocol))
		}
		if b.Address == "" {
			errs = append(errs, fmt.Errorf("bridge %s: address required", b.ID))
		}
		if b.InvalidateAfter < 0 {
			errs = append(errs, fmt.Errorf("bridge %s: invalidate_after must not be negative", b.ID))
		}
	}

	components := make(map[string]bool)
	for i, comp := range c.Components {
		switch {
		case comp.ID == "":
			errs = append(errs, fmt.Errorf("components[%d]: id required", i))
		case strings.Contains(comp.ID, "/"):
			errs = append(errs, fmt.Errorf("component %s: id must not contain '/'", comp.ID))
		case components[comp.ID]:
			errs = append(errs, fmt.Errorf("components[%d]: duplicate id %q", i, comp.ID))
		}
		components[comp.ID] = true

		if comp.Factory == "" {
			errs = append(errs, fmt.Errorf("component %s: factory required", comp.ID))
		}
		if comp.Bridge != "" && !bridges[comp.Bridge] {
			errs = append(errs, fmt.Errorf("component %s: unknown bridge %q", comp.ID, comp.Bridge))
		}
	}

	return errors.Join(errs...)
}

// Bridge returns the bridge configuration with the given id.
func (c *Config) Bridge(id string) (BridgeConfig, bool) {
	for _, b := range c.Bridges {
		if b.ID == id {
			return b, true
		}
	}
	return BridgeConfig{}, false
}

// DecodeProperties decodes a component's properties map into out. Strings
// are accepted for numbers, booleans and durations.
func DecodeProperties(props map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(props); err != nil {
		return fmt.Errorf("invalid properties: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the secret from the configured environment variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
