package types

// CompositionConfig describes a modular I/O station: a bus coupler followed
// by terminals in slot order.
type CompositionConfig struct {
	Coupler   CouplerConfig    `json:"coupler" mapstructure:"coupler"`
	Terminals []TerminalConfig `json:"terminals" mapstructure:"terminals"`
}

type CouplerConfig struct {
	Module    string `json:"module" mapstructure:"module"`
	IPAddress string `json:"ip_address" mapstructure:"ip_address"`
	Port      int    `json:"port" mapstructure:"port"`
	UnitID    int    `json:"unit_id" mapstructure:"unit_id"`
}

type TerminalConfig struct {
	Position int    `json:"position" mapstructure:"position"`
	Module   string `json:"module" mapstructure:"module"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

type ModuleDefinition struct {
	Module       ModuleInfo           `json:"module"`
	ProcessImage ProcessImageInfo     `json:"process_image"`
	Channels     []ChannelInfo        `json:"channels"`
	Registers    []RegisterDefinition `json:"registers,omitempty"`
}

type ModuleInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Type        string `json:"type"` // coupler, input, output, analog
	Version     string `json:"version"`
	Description string `json:"description"`
}

// ProcessImageInfo is the I/O size a terminal occupies on the coupler.
// Digital terminals count bits, analog terminals count 16-bit words.
type ProcessImageInfo struct {
	InputBits   int `json:"input_bits,omitempty"`
	OutputBits  int `json:"output_bits,omitempty"`
	InputWords  int `json:"input_words,omitempty"`
	OutputWords int `json:"output_words,omitempty"`
}

type ChannelInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // digital_input, digital_output, analog_input, analog_output
	Description string `json:"description"`
}
