package blocks

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderkit/ladder/sim"
)

func TestInputPut(t *testing.T) {
	c := sim.NewCircuit()
	in := NewInput(c, "in")
	require.NoError(t, c.Finalize())

	accepted, err := in.Event(sim.EType("put"), sim.Data{"value": "hello"})
	require.NoError(t, err)
	assert.Equal(t, true, accepted)
	assert.Equal(t, "hello", in.Output())
}

func TestInputCheckRejects(t *testing.T) {
	c := sim.NewCircuit()
	in := NewInput(c, "in",
		sim.WithInitDef(0),
		WithCheck(func(v sim.Value) bool {
			n, ok := v.(int)
			return ok && n >= 0
		}))
	require.NoError(t, c.Finalize())

	accepted, err := in.Event(sim.EType("put"), sim.Data{"value": -1})
	require.NoError(t, err)
	assert.Equal(t, false, accepted)
	require.False(t, sim.IsDefined(in.Output()))

	accepted, err = in.Event(sim.EType("put"), sim.Data{"value": 3})
	require.NoError(t, err)
	assert.Equal(t, true, accepted)
	assert.Equal(t, 3, in.Output())
}

func TestInputAllowedSet(t *testing.T) {
	c := sim.NewCircuit()
	in := NewInput(c, "in", WithAllowed("red", "green"))
	require.NoError(t, c.Finalize())

	accepted, err := in.Event(sim.EType("put"), sim.Data{"value": "blue"})
	require.NoError(t, err)
	assert.Equal(t, false, accepted)

	accepted, err = in.Event(sim.EType("put"), sim.Data{"value": "green"})
	require.NoError(t, err)
	assert.Equal(t, true, accepted)
	assert.Equal(t, "green", in.Output())
}

func TestInputSchemaConverts(t *testing.T) {
	c := sim.NewCircuit()
	in := NewInput(c, "in", WithSchema(func(v sim.Value) (sim.Value, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want a string, got %T", v)
		}

		return len(s), nil
	}))
	require.NoError(t, c.Finalize())

	accepted, err := in.Event(sim.EType("put"), sim.Data{"value": "abcd"})
	require.NoError(t, err)
	assert.Equal(t, true, accepted)
	assert.Equal(t, 4, in.Output())

	accepted, err = in.Event(sim.EType("put"), sim.Data{"value": 9})
	require.NoError(t, err)
	assert.Equal(t, false, accepted)
}

func TestInputRestoreRevalidates(t *testing.T) {
	c := sim.NewCircuit()
	in := NewInput(c, "in", WithAllowed("red", "green"))
	require.NoError(t, c.Finalize())

	require.NoError(t, in.RestoreState(`"red"`))
	assert.Equal(t, "red", in.Output())

	// A persisted value the current configuration rejects fails to restore.
	in2 := NewInput(sim.NewCircuit(), "in", WithAllowed("red"))
	assert.Error(t, in2.RestoreState(`"green"`))
}
