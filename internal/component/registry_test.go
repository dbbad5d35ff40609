package component

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
)

type meter struct {
	*Base
	power *channel.Channel[float64]
}

func newMeter(id string) *meter {
	b := NewBase(id)
	return &meter{
		Base:  b,
		power: channel.Register[float64](b.Image(), "ActivePower", channel.Unit("W")),
	}
}

func (m *meter) Activate(context.Context) error { return nil }
func (m *meter) Deactivate() error              { return nil }

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	m := newMeter("meter0")
	require.NoError(t, reg.Add(m))

	ch, err := reg.Resolve(channel.Address{Component: "meter0", Channel: "ActivePower"})
	require.NoError(t, err)
	assert.Equal(t, channel.TypeDouble, ch.Type())

	_, err = reg.Resolve(channel.Address{Component: "meter1", Channel: "ActivePower"})
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = reg.Resolve(channel.Address{Component: "meter0", Channel: "Voltage"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRegistryDuplicateAndRemove(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.Add(newMeter("a")))
	require.NoError(t, reg.Add(newMeter("b")))
	require.NoError(t, reg.Add(newMeter("c")))
	assert.ErrorIs(t, reg.Add(newMeter("b")), ErrDuplicateComponent)

	_, ok := reg.Remove("b")
	assert.True(t, ok)
	_, ok = reg.Remove("b")
	assert.False(t, ok)

	var ids []string
	for _, c := range reg.List() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestRegistryPromotesOnAfterProcessImage(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	m := newMeter("meter0")
	require.NoError(t, reg.Add(m))

	m.power.SetNextValue(1200)
	require.NoError(t, reg.HandleEvent(context.Background(), cycle.EventBeforeProcessImage))
	assert.False(t, m.power.Defined())

	require.NoError(t, reg.HandleEvent(context.Background(), cycle.EventAfterProcessImage))
	assert.Equal(t, 1200.0, m.power.OrElse(0))
}

func TestBaseLevelIsWorstIssue(t *testing.T) {
	m := newMeter("meter0")

	var changes []string
	require.True(t, OnLevelChange(m, func(prev, cur Level) {
		changes = append(changes, prev.String()+"->"+cur.String())
	}))

	require.NoError(t, m.Image().Promote())
	assert.Equal(t, LevelOK, m.Level())

	m.Raise("comm", LevelWarning)
	m.Raise("overtemp", LevelFault)
	require.NoError(t, m.Image().Promote())
	assert.Equal(t, LevelFault, m.Level())
	assert.Equal(t, []string{"comm", "overtemp"}, m.Issues())

	m.Clear("overtemp")
	require.NoError(t, m.Image().Promote())
	assert.Equal(t, LevelWarning, m.Level())

	assert.Equal(t, []string{"OK->FAULT", "FAULT->WARNING"}, changes)
}
