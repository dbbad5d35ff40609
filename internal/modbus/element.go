package modbus

import (
	"fmt"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

// Register maps one register value (1, 2 or 4 words) to a channel.
type Register[T channel.Primitive] struct {
	address  uint16
	dataType types.DataType
	scale    float64
	order    WordOrder
	ch       *channel.Channel[T]
}

var _ task.Element = (*Register[float64])(nil)

// NewRegister creates a register element. A zero scale means 1.
func NewRegister[T channel.Primitive](address uint16, dt types.DataType, scale float64, order WordOrder, ch *channel.Channel[T]) *Register[T] {
	if scale == 0 {
		scale = 1
	}
	return &Register[T]{address: address, dataType: dt, scale: scale, order: order, ch: ch}
}

func (r *Register[T]) Address() uint16      { return r.address }
func (r *Register[T]) Width() uint16        { return RegisterQuantity(r.dataType) }
func (r *Register[T]) Channel() channel.Any { return r.ch }
func (r *Register[T]) Invalidate()          { r.ch.SetNextUndefined() }

func (r *Register[T]) Decode(raw []byte, offset uint16) error {
	start := int(offset) * 2
	if start > len(raw) {
		return fmt.Errorf("%s: offset %d beyond %d bytes", r.ch.ID(), offset, len(raw))
	}
	f, err := DecodeRegisters(raw[start:], r.dataType, r.scale, r.order)
	if err != nil {
		return fmt.Errorf("%s: %w", r.ch.ID(), err)
	}
	v, err := channel.FromFloat64[T](f)
	if err != nil {
		return fmt.Errorf("%s: %w", r.ch.ID(), err)
	}
	r.ch.SetNextValue(v)
	return nil
}

func (r *Register[T]) Encode() ([]byte, bool, error) {
	v, ok := r.ch.NextWriteValueAndReset()
	if !ok {
		return nil, false, nil
	}
	f, ok := channel.ToFloat64(any(v))
	if !ok {
		return nil, false, fmt.Errorf("%s: %w", r.ch.ID(), channel.ErrValueType)
	}
	b, err := EncodeRegisters(f, r.dataType, r.scale, r.order)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", r.ch.ID(), err)
	}
	return b, true, nil
}

// Bit maps one coil or discrete input to a boolean channel.
type Bit struct {
	address uint16
	ch      *channel.Channel[bool]
}

var _ task.Element = (*Bit)(nil)

func NewBit(address uint16, ch *channel.Channel[bool]) *Bit {
	return &Bit{address: address, ch: ch}
}

func (b *Bit) Address() uint16      { return b.address }
func (b *Bit) Width() uint16        { return 1 }
func (b *Bit) Channel() channel.Any { return b.ch }
func (b *Bit) Invalidate()          { b.ch.SetNextUndefined() }

func (b *Bit) Decode(raw []byte, offset uint16) error {
	v, err := bitAt(raw, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", b.ch.ID(), err)
	}
	b.ch.SetNextValue(v)
	return nil
}

func (b *Bit) Encode() ([]byte, bool, error) {
	v, ok := b.ch.NextWriteValueAndReset()
	if !ok {
		return nil, false, nil
	}
	if v {
		return []byte{1}, true, nil
	}
	return []byte{0}, true, nil
}
