package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
)

type settable struct {
	*component.Base
	got   []float64
	limit float64
}

func (s *settable) Activate(context.Context) error { return nil }
func (s *settable) Deactivate() error              { return nil }

func (s *settable) ApplyActivePower(w float64) error {
	if w > s.limit {
		return channel.ErrOutOfRange
	}
	s.got = append(s.got, w)
	return nil
}

type plain struct{ *component.Base }

func (p plain) Activate(context.Context) error { return nil }
func (p plain) Deactivate() error              { return nil }

func newRegistry(t *testing.T, cs ...component.Component) *component.Registry {
	t.Helper()
	r := component.NewRegistry(zap.NewNop())
	for _, c := range cs {
		require.NoError(t, r.Add(c))
	}
	return r
}

func TestFixedPowerAppliesEveryCycle(t *testing.T) {
	ess := &settable{Base: component.NewBase("ess0"), limit: 5000}
	reg := newRegistry(t, ess)

	c, err := NewFixedPower("ctrl0", FixedPowerProperties{Target: "ess0", Power: 2000}, reg, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Run(context.Background()))
	}
	assert.Equal(t, []float64{2000, 2000, 2000}, ess.got)
}

func TestFixedPowerRuntimeChange(t *testing.T) {
	ess := &settable{Base: component.NewBase("ess0"), limit: 5000}
	c, err := NewFixedPower("ctrl0", FixedPowerProperties{Target: "ess0", Power: 2000}, newRegistry(t, ess), zap.NewNop())
	require.NoError(t, err)

	ch, ok := c.Image().Channel("ActivePower")
	require.True(t, ok)
	require.NoError(t, ch.SetNextWriteAny("-1500"))

	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []float64{-1500, -1500}, ess.got)
}

func TestFixedPowerRejectedSetpointRaisesFault(t *testing.T) {
	ess := &settable{Base: component.NewBase("ess0"), limit: 1000}
	c, err := NewFixedPower("ctrl0", FixedPowerProperties{Target: "ess0", Power: 2000}, newRegistry(t, ess), zap.NewNop())
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.ErrorIs(t, err, channel.ErrOutOfRange)
	require.NoError(t, c.Image().Promote())
	assert.Equal(t, component.LevelFault, c.Level())
	assert.Empty(t, ess.got)
}

func TestFixedPowerTargetErrors(t *testing.T) {
	other := plain{component.NewBase("meter0")}
	reg := newRegistry(t, other)

	c, err := NewFixedPower("ctrl0", FixedPowerProperties{Target: "ess9", Power: 1}, reg, zap.NewNop())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Run(context.Background()), component.ErrUnknownComponent)

	c, err = NewFixedPower("ctrl1", FixedPowerProperties{Target: "meter0", Power: 1}, reg, zap.NewNop())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Run(context.Background()), ErrNotPowerSettable)

	_, err = NewFixedPower("ctrl2", FixedPowerProperties{}, reg, zap.NewNop())
	assert.Error(t, err)
}
