package blocks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderkit/ladder/sim"
)

func TestPollSamples(t *testing.T) {
	c := sim.NewCircuit()

	var n atomic.Int64
	p := NewPoll(c, "p", 5*time.Millisecond,
		func(context.Context) (sim.Value, error) {
			return int(n.Add(1)), nil
		})

	waitErr, stop := runCircuit(context.Background(), c)
	require.NoError(t, waitErr)

	// The first sample was taken during initialization.
	v, ok := p.Output().(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 1)

	assert.Eventually(t, func() bool {
		v, ok := p.Output().(int)
		return ok && v >= 3
	}, time.Second, time.Millisecond)

	require.NoError(t, stop())
}

func TestPollSkipsFailedSamples(t *testing.T) {
	c := sim.NewCircuit()

	var n atomic.Int64
	p := NewPoll(c, "p", 5*time.Millisecond,
		func(context.Context) (sim.Value, error) {
			v := n.Add(1)
			if v%2 == 0 {
				return nil, errors.New("sensor glitch")
			}

			return int(v), nil
		})

	waitErr, stop := runCircuit(context.Background(), c)
	require.NoError(t, waitErr)
	defer func() { _ = stop() }()

	assert.Eventually(t, func() bool {
		v, ok := p.Output().(int)
		return ok && v >= 3
	}, time.Second, time.Millisecond)

	// Only odd samples get through.
	v := p.Output().(int)
	assert.Equal(t, 1, v%2)
}

func TestPollFailedFirstSampleFallsBack(t *testing.T) {
	c := sim.NewCircuit()

	p := NewPoll(c, "p", time.Hour,
		func(context.Context) (sim.Value, error) {
			return nil, errors.New("not ready")
		},
		sim.WithInitDef(0))

	waitErr, stop := runCircuit(context.Background(), c)
	require.NoError(t, waitErr)
	defer func() { _ = stop() }()

	assert.Equal(t, 0, p.Output())
}
