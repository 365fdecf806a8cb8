package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderkit/ladder/sim"
)

func TestToggle(t *testing.T) {
	c := sim.NewCircuit()
	tg := NewToggle(c, "tg")
	require.NoError(t, c.Finalize())
	require.NoError(t, tg.InitRegular())

	assert.Equal(t, false, tg.Output())

	_, err := tg.Event(sim.EType("toggle"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, true, tg.Output())

	_, err = tg.Event(sim.EType("toggle"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, false, tg.Output())
}

func TestToggleForcedState(t *testing.T) {
	c := sim.NewCircuit()
	tg := NewToggle(c, "tg")
	require.NoError(t, c.Finalize())

	taken, err := tg.Event(sim.EType("on"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, true, taken)
	assert.Equal(t, true, tg.Output())

	// Forcing the state it is already in is a no-op.
	taken, err = tg.Event(sim.EType("on"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, false, taken)
	assert.Equal(t, true, tg.Output())
}

func TestToggleInitialState(t *testing.T) {
	c := sim.NewCircuit()
	tg := NewToggle(c, "tg", sim.WithInitialState("on"))
	require.NoError(t, c.Finalize())
	require.NoError(t, tg.InitRegular())

	assert.Equal(t, true, tg.Output())
	assert.Equal(t, "on", tg.State())
}
