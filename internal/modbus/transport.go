package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/task"
)

var ErrReadOnlyFunction = errors.New("function does not support writes")

// TransportConfig describes one physical bus.
type TransportConfig struct {
	Protocol string // tcp | rtu
	Address  string // host:port for tcp, device path for rtu
	Timeout  time.Duration

	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N | E | O
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Transport implements bridge.Transport on top of goburrow/modbus. One
// Transport serves all unit ids on its bus; requests are serialised because
// the slave id is set on the shared handler.
type Transport struct {
	cfg    TransportConfig
	logger *zap.Logger

	mu       sync.Mutex
	handler  handler
	setSlave func(uint8)
	client   modbus.Client
}

func NewTransport(cfg TransportConfig, logger *zap.Logger) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}

	t := &Transport{cfg: cfg, logger: logger}

	switch cfg.Protocol {
	case "tcp", "":
		if cfg.Address == "" {
			return nil, errors.New("modbus tcp: address required")
		}
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = cfg.Timeout
		t.handler = h
		t.setSlave = func(id uint8) { h.SlaveId = id }
	case "rtu":
		if cfg.Address == "" {
			return nil, errors.New("modbus rtu: serial device required")
		}
		h := modbus.NewRTUClientHandler(cfg.Address)
		h.Timeout = cfg.Timeout
		if cfg.BaudRate > 0 {
			h.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			h.DataBits = cfg.DataBits
		}
		if cfg.StopBits > 0 {
			h.StopBits = cfg.StopBits
		}
		if cfg.Parity != "" {
			h.Parity = cfg.Parity
		}
		t.handler = h
		t.setSlave = func(id uint8) { h.SlaveId = id }
	default:
		return nil, fmt.Errorf("unsupported modbus protocol %q", cfg.Protocol)
	}

	t.client = modbus.NewClient(t.handler)
	return t, nil
}

// newTransportWithClient is used by tests to inject a fake client.
func newTransportWithClient(client modbus.Client, setSlave func(uint8)) *Transport {
	return &Transport{client: client, setSlave: setSlave, logger: zap.NewNop()}
}

// Open connects the handler. goburrow reconnects lazily on the next request
// after a connection loss.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return nil
	}
	if err := t.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", t.cfg.Address, err)
	}
	t.logger.Info("Modbus transport connected",
		zap.String("protocol", t.cfg.Protocol),
		zap.String("address", t.cfg.Address))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return nil
	}
	return t.handler.Close()
}

// Read executes a read task. The returned bytes are the raw register (big
// endian words) or packed bit payload starting at the task address.
// goburrow has no context support; ctx is checked before the request and the
// handler timeout bounds the call.
func (t *Transport) Read(ctx context.Context, tk *task.Task) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setSlave(tk.UnitID)
	qty := tk.Quantity()

	switch tk.Function {
	case task.FunctionCoils:
		return t.client.ReadCoils(tk.Address, qty)
	case task.FunctionDiscreteInputs:
		return t.client.ReadDiscreteInputs(tk.Address, qty)
	case task.FunctionHoldingRegisters:
		return t.client.ReadHoldingRegisters(tk.Address, qty)
	case task.FunctionInputRegisters:
		return t.client.ReadInputRegisters(tk.Address, qty)
	default:
		return nil, fmt.Errorf("unsupported function %d", tk.Function)
	}
}

// Write transmits payload for a single element at address.
func (t *Transport) Write(ctx context.Context, tk *task.Task, address uint16, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setSlave(tk.UnitID)

	switch tk.Function {
	case task.FunctionCoils:
		if len(payload) == 0 {
			return errors.New("empty coil payload")
		}
		var v uint16
		if payload[0] != 0 {
			v = 0xFF00
		}
		_, err := t.client.WriteSingleCoil(address, v)
		return err
	case task.FunctionHoldingRegisters:
		if len(payload) == 0 || len(payload)%2 != 0 {
			return fmt.Errorf("invalid register payload length %d", len(payload))
		}
		if len(payload) == 2 {
			_, err := t.client.WriteSingleRegister(address, uint16(payload[0])<<8|uint16(payload[1]))
			return err
		}
		_, err := t.client.WriteMultipleRegisters(address, uint16(len(payload)/2), payload)
		return err
	default:
		return fmt.Errorf("%s: %w", tk.Function, ErrReadOnlyFunction)
	}
}
