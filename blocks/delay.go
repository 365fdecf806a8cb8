package blocks

import (
	"time"

	"github.com/ladderkit/ladder/sim"
)

var delayTable = sim.CompileFSM(sim.FSMDef{
	States: []string{"off", "rising", "on", "falling"},
	Transitions: []sim.TransitionDef{
		{Event: "on", From: []string{"off"}, To: "rising"},
		{Event: "on", From: []string{"falling"}, To: "on"},
		{Event: "off", From: []string{"on"}, To: "falling"},
		{Event: "off", From: []string{"rising"}, To: "off"},
	},
	Timers: map[string]sim.TimerDef{
		"rising":  {Duration: 0, Expired: sim.Goto{State: "on"}},
		"falling": {Duration: 0, Expired: sim.Goto{State: "off"}},
	},
})

// A Delay is an on-delay/off-delay relay: its boolean output follows the
// "on"/"off" events after the configured rise and fall delays. An input that
// reverts during the delay phase cancels the pending change, so pulses
// shorter than the delay are filtered out. Feed it from another block with
// sim.OnOutput and an UpDown event type.
type Delay struct {
	sim.FSM
}

// NewDelay creates a delay relay in the off state. Both delays default to
// zero, i.e. the output follows the input on the next loop turn.
func NewDelay(c *sim.Circuit, name string, opts ...sim.Option) *Delay {
	b := new(Delay)

	opts = append([]sim.Option{sim.WithOutputFunc(func(state string) sim.Value {
		return state == "on" || state == "falling"
	})}, opts...)
	b.InitFSM(c, b, name, delayTable, opts...)

	return b
}

// WithRiseDelay delays the off-to-on edge.
func WithRiseDelay(d time.Duration) sim.Option {
	return sim.WithStateDuration("rising", d)
}

// WithFallDelay delays the on-to-off edge.
func WithFallDelay(d time.Duration) sim.Option {
	return sim.WithStateDuration("falling", d)
}
