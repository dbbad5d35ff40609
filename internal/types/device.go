package types

type DeviceProfileDefinition struct {
	DeviceProfile DeviceProfileInfo    `json:"device_profile" yaml:"device_profile"`
	Connection    ConnectionConfig     `json:"connection" yaml:"connection"`
	Registers     []RegisterDefinition `json:"registers" yaml:"registers"`
	Groups        []RegisterGroup      `json:"register_groups,omitempty" yaml:"register_groups,omitempty"`
}

type DeviceProfileInfo struct {
	ID          string `json:"id" yaml:"id"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Model       string `json:"model" yaml:"model"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type ConnectionConfig struct {
	Protocol  string `json:"protocol" yaml:"protocol"`
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"`
	UnitID    int    `json:"unit_id" yaml:"unit_id"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type RegisterDefinition struct {
	Name        string       `json:"name" yaml:"name"`
	Address     uint16       `json:"address" yaml:"address"`
	Type        RegisterType `json:"type" yaml:"type"`
	DataType    DataType     `json:"data_type" yaml:"data_type"`
	ScaleFactor float64      `json:"scale_factor,omitempty" yaml:"scale_factor,omitempty"`
	WordOrder   string       `json:"word_order,omitempty" yaml:"word_order,omitempty"`
	Unit        string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	Access      AccessType   `json:"access" yaml:"access"`
	Min         *float64     `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64     `json:"max,omitempty" yaml:"max,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// RegisterGroup is read as one bus request. Registers must share a register
// type and lie within one contiguous window.
type RegisterGroup struct {
	Name       string   `json:"name" yaml:"name"`
	Priority   string   `json:"priority,omitempty" yaml:"priority,omitempty"` // high, low, once
	SkipCycles int      `json:"skip_cycles,omitempty" yaml:"skip_cycles,omitempty"`
	Registers  []string `json:"registers" yaml:"registers"`
}

type RegisterType string

const (
	RegisterTypeCoil            RegisterType = "coil"
	RegisterTypeDiscreteInput   RegisterType = "discrete_input"
	RegisterTypeInputRegister   RegisterType = "input_register"
	RegisterTypeHoldingRegister RegisterType = "holding_register"
)

// Bits reports whether the register type addresses single bits.
func (t RegisterType) Bits() bool {
	return t == RegisterTypeCoil || t == RegisterTypeDiscreteInput
}

// Writable reports whether the register table accepts writes.
func (t RegisterType) Writable() bool {
	return t == RegisterTypeCoil || t == RegisterTypeHoldingRegister
}

type DataType string

const (
	DataTypeBool    DataType = "bool"
	DataTypeInt16   DataType = "int16"
	DataTypeUint16  DataType = "uint16"
	DataTypeInt32   DataType = "int32"
	DataTypeUint32  DataType = "uint32"
	DataTypeFloat32 DataType = "float32"
	DataTypeFloat64 DataType = "float64"
)

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
	AccessTypeWriteOnly AccessType = "write_only"
)

func (a AccessType) Readable() bool { return a != AccessTypeWriteOnly }
func (a AccessType) Writable() bool { return a == AccessTypeReadWrite || a == AccessTypeWriteOnly }
