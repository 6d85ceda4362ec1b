//go:build linux

package procmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGroupStartNecessaryAutostarts(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	cfg.Autostart = true
	g := NewProcessGroup("g", 1, []*ProcessConfig{cfg}, NewEventBus(nil), zap.NewNop())

	g.StartNecessary()
	assert.NotZero(t, g.ByName("true").Pid())
}

func TestGroupStartNecessarySkipsAutostartFalse(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	cfg.Autostart = false
	g := NewProcessGroup("g", 1, []*ProcessConfig{cfg}, NewEventBus(nil), zap.NewNop())

	g.StartNecessary()
	assert.Zero(t, g.ByName("true").Pid())
}

func TestGroupTransitionEscalatesExhaustedBackoffToFatal(t *testing.T) {
	cfg := testConfig("nope", []string{"/no/such/binary-xyz"})
	cfg.StartRetries = 1
	g := NewProcessGroup("g", 1, []*ProcessConfig{cfg}, NewEventBus(nil), zap.NewNop())
	sp := g.ByName("nope")

	// Two failed spawns exhausts startretries=1 (backoff > startretries).
	g.spawnOne(sp)
	g.spawnOne(sp)
	require.Equal(t, 2, sp.Backoff())

	g.Transition(time.Now())
	assert.Equal(t, StateFatal, sp.State())
}

func TestGroupStopAllFastForwardsBackoffToFatal(t *testing.T) {
	cfg := testConfig("nope", []string{"/no/such/binary-xyz"})
	g := NewProcessGroup("g", 1, []*ProcessConfig{cfg}, NewEventBus(nil), zap.NewNop())
	sp := g.ByName("nope")
	g.spawnOne(sp) // fails, lands in BACKOFF

	g.StopAll(time.Now())
	assert.Equal(t, StateFatal, sp.State())
}

func TestGroupOrdersMembersByOwnPriorityRegardlessOfDeclarationOrder(t *testing.T) {
	low := testConfig("low", []string{"/bin/true"})
	low.Priority = 10
	high := testConfig("high", []string{"/bin/true"})
	high.Priority = 1

	// Declared high-priority-number-first; the group must still start
	// "high" (lower number) before "low".
	g := NewProcessGroup("g", 1, []*ProcessConfig{low, high}, NewEventBus(nil), zap.NewNop())

	require.Len(t, g.Processes(), 2)
	assert.Equal(t, "high", g.Processes()[0].Name())
	assert.Equal(t, "low", g.Processes()[1].Name())
}

func TestGroupSpawnOnePublishesStateChange(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	bus := NewEventBus(nil)
	var events []ProcessStateChangeEvent
	bus.Subscribe("PROCESS_STATE_CHANGE", func(ev Event) error {
		events = append(events, ev.(ProcessStateChangeEvent))
		return nil
	})
	g := NewProcessGroup("g", 1, []*ProcessConfig{cfg}, bus, zap.NewNop())
	sp := g.ByName("true")

	g.spawnOne(sp)

	require.Len(t, events, 1)
	assert.Equal(t, StateStopped, events[0].From)
	assert.Equal(t, StateStarting, events[0].To)
}
