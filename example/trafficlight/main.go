// A timed traffic light crossing: the light cycles green-yellow-red on its
// own timers, a combinational block derives the pedestrian walk sign from
// the lamp color, and output blocks report every change.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ladderkit/ladder/blocks"
	"github.com/ladderkit/ladder/sim"
)

var lightTable = sim.CompileFSM(sim.FSMDef{
	States: []string{"red", "green", "yellow"},
	Transitions: []sim.TransitionDef{
		// A manual override for maintenance.
		{Event: "halt", To: "red"},
	},
	Timers: map[string]sim.TimerDef{
		"red":    {Duration: 3 * time.Second, Expired: sim.Goto{State: "green"}},
		"green":  {Duration: 3 * time.Second, Expired: sim.Goto{State: "yellow"}},
		"yellow": {Duration: time.Second, Expired: sim.Goto{State: "red"}},
	},
})

// A TrafficLight cycles through red, green and yellow on its state timers.
// The output is the current lamp color.
type TrafficLight struct {
	sim.FSM
}

func NewTrafficLight(c *sim.Circuit, name string, opts ...sim.Option) *TrafficLight {
	l := new(TrafficLight)
	l.InitFSM(c, l, name, lightTable, opts...)

	return l
}

// walkSign is a combinational block: pedestrians walk while the lamp is red.
type walkSign struct {
	sim.CBlockBase
}

func (b *walkSign) Calc() (sim.Value, error) {
	return b.InVal("lamp") == "red", nil
}

func main() {
	logrus.SetLevel(logrus.DebugLevel)

	c := sim.NewCircuit(sim.WithCircuitName("crossing"))

	NewTrafficLight(c, "light",
		sim.OnOutput(sim.NewEvent("lampDriver", sim.EType("put"))))

	walk := new(walkSign)
	walk.InitCBlock(c, walk, "walk",
		sim.OnOutput(sim.NewEvent("walkDriver", sim.EType("put"))))
	walk.Connect(sim.In("lamp", "light"))

	blocks.NewOutputFunc(c, "lampDriver",
		func(_ context.Context, v sim.Value) error {
			logrus.Infof("lamp: %v", v)
			return nil
		})

	blocks.NewOutputFunc(c, "walkDriver",
		func(_ context.Context, v sim.Value) error {
			logrus.Infof("walk sign: %v", v)
			return nil
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Let the crossing run a couple of cycles, then shut it down cleanly.
	timer := time.AfterFunc(15*time.Second, func() { _ = c.Shutdown() })
	defer timer.Stop()

	if err := c.Run(ctx); err != nil {
		logrus.Fatalf("circuit failed: %v", err)
	}

	logrus.Info("crossing stopped")
}
