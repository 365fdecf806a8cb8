package blocks

import (
	"github.com/ladderkit/ladder/sim"
)

var toggleTable = sim.CompileFSM(sim.FSMDef{
	States: []string{"off", "on"},
	Transitions: []sim.TransitionDef{
		{Event: "on", From: []string{"off"}, To: "on"},
		{Event: "off", From: []string{"on"}, To: "off"},
		{Event: "toggle", From: []string{"off"}, To: "on"},
		{Event: "toggle", From: []string{"on"}, To: "off"},
	},
})

// A Toggle is a two-state flip-flop. "on" and "off" force a state, "toggle"
// flips it. The output is the boolean state.
type Toggle struct {
	sim.FSM
}

// NewToggle creates a toggle in the off state.
func NewToggle(c *sim.Circuit, name string, opts ...sim.Option) *Toggle {
	b := new(Toggle)

	opts = append([]sim.Option{sim.WithOutputFunc(boolState)}, opts...)
	b.InitFSM(c, b, name, toggleTable, opts...)

	return b
}

func boolState(state string) sim.Value {
	return state == "on"
}
