package component

import (
	"context"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
)

// StateChannel is the id of the level channel every component carries.
const StateChannel = "State"

// Level is the aggregated health of a component.
type Level int32

const (
	LevelOK Level = iota
	LevelWarning
	LevelFault
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "OK"
	case LevelWarning:
		return "WARNING"
	case LevelFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// Component owns a process image. Drivers register their bus tasks in
// Activate and remove them in Deactivate.
type Component interface {
	ID() string
	Image() *channel.ProcessImage
	Activate(ctx context.Context) error
	Deactivate() error
}

// Runnable is a component executing logic once per cycle, between the read
// and the write phase.
type Runnable interface {
	Component
	Run(ctx context.Context) error
}

// Describer is implemented by components exposing static metadata to the API.
type Describer interface {
	Factory() string
	Describe() map[string]any
}

// Base carries the process image and the State channel. Driver structs embed it.
type Base struct {
	id    string
	image *channel.ProcessImage
	state *channel.Channel[int32]

	mu     sync.Mutex
	issues map[string]Level
}

// NewBase creates the process image of component id with its State channel.
func NewBase(id string) *Base {
	img := channel.NewProcessImage(id)
	b := &Base{
		id:     id,
		image:  img,
		state:  channel.Register[int32](img, StateChannel, channel.Text("component level: 0=OK 1=WARNING 2=FAULT")),
		issues: make(map[string]Level),
	}
	b.state.SetNextValue(int32(LevelOK))
	return b
}

func (b *Base) ID() string                   { return b.id }
func (b *Base) Image() *channel.ProcessImage { return b.image }

// Level returns the current level. Undefined is reported as OK.
func (b *Base) Level() Level {
	return Level(b.state.OrElse(int32(LevelOK)))
}

// Raise records an issue under key; the component level for the next cycle
// becomes the worst raised level.
func (b *Base) Raise(key string, lvl Level) {
	b.mu.Lock()
	b.issues[key] = lvl
	b.updateLocked()
	b.mu.Unlock()
}

// Clear removes a previously raised issue.
func (b *Base) Clear(key string) {
	b.mu.Lock()
	delete(b.issues, key)
	b.updateLocked()
	b.mu.Unlock()
}

// Issues returns the currently raised issue keys, sorted.
func (b *Base) Issues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.issues))
	for k := range b.issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Base) updateLocked() {
	worst := LevelOK
	for _, l := range b.issues {
		if l > worst {
			worst = l
		}
	}
	b.state.SetNextValue(int32(worst))
}

// OnLevelChange calls fn after a promotion changed the level of c.
func OnLevelChange(c Component, fn func(previous, current Level)) bool {
	a, ok := c.Image().Channel(StateChannel)
	if !ok {
		return false
	}
	ch, ok := a.(*channel.Channel[int32])
	if !ok {
		return false
	}
	ch.OnPromote(func(prev, cur channel.Maybe[int32]) {
		p := Level(prev.OrElse(int32(LevelOK)))
		n := Level(cur.OrElse(int32(LevelOK)))
		if p != n {
			fn(p, n)
		}
	})
	return true
}
