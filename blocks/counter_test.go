package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderkit/ladder/sim"
)

func TestCounterSteps(t *testing.T) {
	c := sim.NewCircuit()
	cnt := NewCounter(c, "cnt")
	require.NoError(t, c.Finalize())

	_, err := cnt.Event(sim.EType("inc"), sim.Data{})
	require.NoError(t, err)
	_, err = cnt.Event(sim.EType("inc"), sim.Data{"amount": 5})
	require.NoError(t, err)
	_, err = cnt.Event(sim.EType("dec"), sim.Data{"amount": 2})
	require.NoError(t, err)

	assert.Equal(t, 4, cnt.Output())
}

func TestCounterPutAndReset(t *testing.T) {
	c := sim.NewCircuit()
	cnt := NewCounter(c, "cnt", WithCounterStart(10))
	require.NoError(t, c.Finalize())
	require.NoError(t, cnt.InitRegular())

	assert.Equal(t, 10, cnt.Output())

	_, err := cnt.Event(sim.EType("put"), sim.Data{"value": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, cnt.Output())

	_, err = cnt.Event(sim.EType("reset"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, 10, cnt.Output())
}

func TestCounterModulo(t *testing.T) {
	c := sim.NewCircuit()
	cnt := NewCounter(c, "cnt", WithModulo(3))
	require.NoError(t, c.Finalize())

	for i := 0; i < 4; i++ {
		_, err := cnt.Event(sim.EType("inc"), sim.Data{})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, cnt.Output())

	_, err := cnt.Event(sim.EType("dec"), sim.Data{"amount": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, cnt.Output())
}

func TestCounterPersistence(t *testing.T) {
	c := sim.NewCircuit()
	cnt := NewCounter(c, "cnt", sim.WithPersistentState())
	require.NoError(t, c.Finalize())

	_, err := cnt.Event(sim.EType("put"), sim.Data{"value": 7})
	require.NoError(t, err)

	encoded, err := cnt.SaveState()
	require.NoError(t, err)
	assert.Equal(t, "7", encoded)

	c2 := sim.NewCircuit()
	cnt2 := NewCounter(c2, "cnt")
	require.NoError(t, c2.Finalize())

	require.NoError(t, cnt2.RestoreState(encoded))
	assert.Equal(t, 7, cnt2.Output())

	// A restored counter keeps counting from the restored value.
	_, err = cnt2.Event(sim.EType("inc"), sim.Data{})
	require.NoError(t, err)
	assert.Equal(t, 8, cnt2.Output())
}
