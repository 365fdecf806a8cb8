package blocks

import (
	"time"

	"github.com/ladderkit/ladder/sim"
)

var timerTable = sim.CompileFSM(sim.FSMDef{
	States: []string{"off", "on"},
	Transitions: []sim.TransitionDef{
		{Event: "start", To: "on"},
		{Event: "stop", To: "off"},
		{Event: "toggle", From: []string{"off"}, To: "on"},
		{Event: "toggle", From: []string{"on"}, To: "off"},
	},
	Timers: map[string]sim.TimerDef{
		// Both phases default to no timeout; instances enable them with
		// WithOnDuration and WithOffDuration. A "start" in the on state
		// re-enters it, restarting the timer.
		"on":  {Duration: -1, Expired: sim.Goto{State: "off"}},
		"off": {Duration: -1, Expired: sim.Goto{State: "on"}},
	},
})

// A Timer is an on/off block whose phases can time out into the opposite
// phase: a monostable or astable multivibrator depending on which durations
// are set. The output is the boolean state.
type Timer struct {
	sim.FSM
}

// NewTimer creates a timer in the off state with no timeouts configured.
func NewTimer(c *sim.Circuit, name string, opts ...sim.Option) *Timer {
	b := new(Timer)

	opts = append([]sim.Option{sim.WithOutputFunc(boolState)}, opts...)
	b.InitFSM(c, b, name, timerTable, opts...)

	return b
}

// WithOnDuration limits the on phase.
func WithOnDuration(d time.Duration) sim.Option {
	return sim.WithStateDuration("on", d)
}

// WithOffDuration limits the off phase.
func WithOffDuration(d time.Duration) sim.Option {
	return sim.WithStateDuration("off", d)
}
