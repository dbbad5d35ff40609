package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

// diagnosticsAddress is the first coupler register read at LOW priority.
const diagnosticsAddress = 4000

type Composer struct {
	searchPaths []string
	logger      *zap.Logger
}

func NewComposer(searchPaths []string, logger *zap.Logger) *Composer {
	return &Composer{
		searchPaths: searchPaths,
		logger:      logger,
	}
}

// ComposeDevice builds a complete device profile from a coupler and its
// terminals. Terminal channels are mapped in slot order: digital inputs to
// discrete inputs, digital outputs to coils, analog inputs to input
// registers and analog outputs to holding registers.
func (c *Composer) ComposeDevice(id string, comp types.CompositionConfig) (*types.DeviceProfileDefinition, error) {
	c.logger.Info("Composing device",
		zap.String("component", id),
		zap.String("coupler", comp.Coupler.Module))

	couplerModule, err := c.loadModule(comp.Coupler.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupler: %w", err)
	}

	if couplerModule.Module.Type != "coupler" {
		return nil, fmt.Errorf("module %s is not a coupler (type: %s)",
			couplerModule.Module.ID, couplerModule.Module.Type)
	}

	profile := &types.DeviceProfileDefinition{
		DeviceProfile: types.DeviceProfileInfo{
			ID:          id,
			Vendor:      couplerModule.Module.Vendor,
			Model:       fmt.Sprintf("%s + %d terminals", couplerModule.Module.Model, len(comp.Terminals)),
			Version:     "1.0",
			Description: fmt.Sprintf("Composed device: %s", id),
		},
		Connection: types.ConnectionConfig{
			Protocol:  "modbus_tcp",
			Port:      comp.Coupler.Port,
			UnitID:    comp.Coupler.UnitID,
			TimeoutMs: 1000,
		},
	}

	// coupler registers (diagnostics, status)
	profile.Registers = append(profile.Registers, couplerModule.Registers...)

	var off offsets
	for i, terminal := range comp.Terminals {
		c.logger.Debug("Processing terminal",
			zap.Int("position", terminal.Position),
			zap.String("module", terminal.Module),
			zap.String("prefix", terminal.Prefix))

		terminalModule, err := c.loadModule(terminal.Module)
		if err != nil {
			return nil, fmt.Errorf("failed to load terminal at position %d: %w", i, err)
		}

		for _, ch := range terminalModule.Channels {
			reg, err := channelToRegister(ch, terminal.Prefix, off)
			if err != nil {
				return nil, fmt.Errorf("terminal %s: %w", terminal.Module, err)
			}
			profile.Registers = append(profile.Registers, reg)
		}

		off.inputBits += terminalModule.ProcessImage.InputBits
		off.outputBits += terminalModule.ProcessImage.OutputBits
		off.inputWords += terminalModule.ProcessImage.InputWords
		off.outputWords += terminalModule.ProcessImage.OutputWords
	}

	profile.Groups = createRegisterGroups(profile.Registers)

	c.logger.Info("Device composition complete",
		zap.String("component", id),
		zap.Int("total_registers", len(profile.Registers)),
		zap.Int("register_groups", len(profile.Groups)))

	return profile, nil
}

type offsets struct {
	inputBits, outputBits   int
	inputWords, outputWords int
}

func (c *Composer) loadModule(modulePath string) (*types.ModuleDefinition, error) {
	var data []byte
	var foundPath string

	for _, searchPath := range c.searchPaths {
		fullPath := filepath.Join(searchPath, modulePath+".json")
		d, err := os.ReadFile(fullPath)
		if err == nil {
			data, foundPath = d, fullPath
			break
		}
	}

	if data == nil {
		return nil, fmt.Errorf("module not found: %s (searched in: %v)", modulePath, c.searchPaths)
	}

	var module types.ModuleDefinition
	if err := json.Unmarshal(data, &module); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module %s: %w", foundPath, err)
	}

	return &module, nil
}

func channelToRegister(ch types.ChannelInfo, prefix string, off offsets) (types.RegisterDefinition, error) {
	reg := types.RegisterDefinition{
		Name:        fmt.Sprintf("%s.%s", prefix, ch.Name),
		ScaleFactor: 1.0,
		Description: ch.Description,
	}

	switch ch.Type {
	case "digital_input":
		reg.Type = types.RegisterTypeDiscreteInput
		reg.DataType = types.DataTypeBool
		reg.Address = uint16(off.inputBits + ch.ID)
		reg.Access = types.AccessTypeReadOnly
	case "digital_output":
		reg.Type = types.RegisterTypeCoil
		reg.DataType = types.DataTypeBool
		reg.Address = uint16(off.outputBits + ch.ID)
		reg.Access = types.AccessTypeReadWrite
	case "analog_input":
		reg.Type = types.RegisterTypeInputRegister
		reg.DataType = types.DataTypeInt16
		reg.Address = uint16(off.inputWords + ch.ID)
		reg.Access = types.AccessTypeReadOnly
	case "analog_output":
		reg.Type = types.RegisterTypeHoldingRegister
		reg.DataType = types.DataTypeInt16
		reg.Address = uint16(off.outputWords + ch.ID)
		reg.Access = types.AccessTypeReadWrite
	default:
		return reg, fmt.Errorf("unsupported channel type %q", ch.Type)
	}
	return reg, nil
}

// createRegisterGroups builds one HIGH group per register table for the
// process I/O and one LOW group per table for coupler diagnostics.
func createRegisterGroups(registers []types.RegisterDefinition) []types.RegisterGroup {
	tables := []types.RegisterType{
		types.RegisterTypeDiscreteInput,
		types.RegisterTypeCoil,
		types.RegisterTypeInputRegister,
		types.RegisterTypeHoldingRegister,
	}

	var groups []types.RegisterGroup
	for _, table := range tables {
		io := types.RegisterGroup{Name: "io_" + string(table), Priority: "high"}
		diag := types.RegisterGroup{Name: "diagnostics_" + string(table), Priority: "low"}

		for _, reg := range registers {
			if reg.Type != table || !reg.Access.Readable() {
				continue
			}
			if reg.Address >= diagnosticsAddress {
				diag.Registers = append(diag.Registers, reg.Name)
			} else {
				io.Registers = append(io.Registers, reg.Name)
			}
		}

		if len(io.Registers) > 0 {
			groups = append(groups, io)
		}
		if len(diag.Registers) > 0 {
			groups = append(groups, diag)
		}
	}
	return groups
}
