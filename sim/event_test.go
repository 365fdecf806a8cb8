package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lamp struct {
	SBlockBase

	onCount, offCount int
	lastData          Data
}

func newLamp(c *Circuit, name string, opts ...Option) *lamp {
	l := new(lamp)
	l.InitSBlock(c, l, name, opts...)

	l.RegisterEventHandler("on", func(data Data) (Value, error) {
		l.onCount++
		l.lastData = data

		return true, l.SetOutput(true)
	})

	l.RegisterEventHandler("off", func(data Data) (Value, error) {
		l.offCount++
		l.lastData = data

		return true, l.SetOutput(false)
	})

	return l
}

func (l *lamp) InitRegular() error {
	return l.SetOutput(false)
}

func TestEventSendStampsSourceAndFilters(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	dst := newLamp(c, "dst")

	var seen Data
	ev := NewEvent(dst, EType("on"),
		Edit(func(d Data) { d["extra"] = 42 }),
		Permit(func(d Data) bool {
			seen = d
			return true
		}),
	)

	require.NoError(t, c.Finalize())
	c.setState(CircuitInitializing)

	require.NoError(t, ev.Send(src, Data{"value": 1}))

	assert.Equal(t, "src", seen["source"])
	assert.Equal(t, 42, seen["extra"])
	assert.Equal(t, 1, dst.onCount)
	assert.Equal(t, true, dst.Output())
}

func TestEventFilterRejectionSkipsDelivery(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	dst := newLamp(c, "dst")

	ev := NewEvent(dst, EType("on"), Permit(func(Data) bool { return false }))

	require.NoError(t, c.Finalize())
	c.setState(CircuitInitializing)

	require.NoError(t, ev.Send(src, Data{}))
	assert.Zero(t, dst.onCount)
}

func TestEventDeliveryInitializesDestinationEagerly(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	dst := newLamp(c, "dst")

	ev := NewEvent(dst, EType("on"))

	require.NoError(t, c.Finalize())
	c.setState(CircuitInitializing)

	require.False(t, IsDefined(dst.Output()))
	require.NoError(t, ev.Send(src, Data{}))

	// InitRegular ran before the "on" handler: off first, then on.
	assert.Equal(t, true, dst.Output())
	assert.Equal(t, 1, dst.onCount)
}

func TestConditionalEventResolution(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	dst := newLamp(c, "dst")

	ud := UpDown{IfTrue: "on", IfFalse: "off"}
	ev := NewEvent(dst, ud)

	require.NoError(t, c.Finalize())
	c.setState(CircuitInitializing)

	require.NoError(t, ev.Send(src, Data{"value": true}))
	assert.Equal(t, 1, dst.onCount)
	assert.Equal(t, 0, dst.offCount)

	// An absent "value" counts as false.
	require.NoError(t, ev.Send(src, Data{}))
	assert.Equal(t, 1, dst.offCount)

	// An unset branch means no event at all.
	halfEv := NewEvent(dst, UpDown{IfTrue: "on"})
	require.NoError(t, halfEv.Send(src, Data{"value": false}))
	assert.Equal(t, 1, dst.offCount)
}

func TestUnknownEventRejectedUnlessBypassed(t *testing.T) {
	c := NewCircuit()
	strict := newLamp(c, "strict")
	lax := newLamp(c, "lax", WithUnknownEventsIgnored())

	require.NoError(t, c.Finalize())

	_, err := strict.Event(EType("frob"), Data{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	var be *BlockError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "strict", be.BlockName)

	_, err = lax.Event(EType("frob"), Data{})
	assert.NoError(t, err)
}

type echo struct {
	SBlockBase
}

func TestReentrantEventIsFatal(t *testing.T) {
	c := NewCircuit()

	e := new(echo)
	e.InitSBlock(c, e, "echo")

	var nestedErr error
	e.RegisterEventHandler("ping", func(Data) (Value, error) {
		_, nestedErr = e.Event(EType("ping"), Data{})
		return nil, nestedErr
	})

	require.NoError(t, c.Finalize())

	_, err := e.Event(EType("ping"), Data{})
	require.Error(t, err)
	assert.True(t, errors.Is(nestedErr, ErrReentrantEvent))
	assert.True(t, errors.Is(c.Err(), ErrReentrantEvent))
}

func TestEventByNameResolution(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	newLamp(c, "dst")

	ev := NewEvent("dst", EType("on"))
	src.base().onOutput = append(src.base().onOutput, ev)

	require.NoError(t, c.Finalize())
	require.NotNil(t, ev.Dest())
	assert.Equal(t, "dst", ev.Dest().Name())
}

func TestEventToCombinationalBlockIsConfigError(t *testing.T) {
	c := NewCircuit()
	src := newRegister(c, "src")
	gate := newNand(c, "gate")
	gate.Connect(In("a", true), In("b", src))

	ev := NewEvent("gate", EType("on"))
	src.base().onOutput = append(src.base().onOutput, ev)

	err := c.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "combinational")
}
