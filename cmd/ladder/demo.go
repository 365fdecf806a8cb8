package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ladderkit/ladder/blocks"
	"github.com/ladderkit/ladder/monitoring"
	"github.com/ladderkit/ladder/sim"
	"github.com/ladderkit/ladder/storage"
)

var (
	demoPort    int
	demoBrowser bool
	demoState   string
	demoPeriod  time.Duration
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a self-oscillating demo circuit under the monitor",
	RunE:  runDemo,
}

func init() {
	demoCmd.Flags().IntVar(&demoPort, "port", 0,
		"monitoring port (0 picks a random one)")
	demoCmd.Flags().BoolVar(&demoBrowser, "browser", false,
		"open the monitor page in a browser")
	demoCmd.Flags().StringVar(&demoState, "state", "",
		"SQLite file persisting block state across runs")
	demoCmd.Flags().DurationVar(&demoPeriod, "period", 500*time.Millisecond,
		"blinker half-period")

	rootCmd.AddCommand(demoCmd)
}

// runDemo wires a free-running blinker, a cycle counter persisted across
// restarts, and a console sink, then serves the circuit over the monitor
// until interrupted.
func runDemo(*cobra.Command, []string) error {
	opts := []sim.CircuitOption{sim.WithCircuitName("demo")}

	if demoState != "" {
		store, err := storage.NewSQLiteStore(demoState)
		if err != nil {
			return err
		}

		opts = append(opts, sim.WithStore(store))
	}

	c := sim.NewCircuit(opts...)

	blocks.NewTimer(c, "blinker",
		blocks.WithOnDuration(demoPeriod),
		blocks.WithOffDuration(demoPeriod),
		sim.OnOutput(
			sim.NewEvent("cycles", sim.UpDown{IfTrue: "inc"}),
			sim.NewEvent("console", sim.EType("put")),
		))

	cycles := blocks.NewCounter(c, "cycles", sim.WithPersistentState())

	blocks.NewOutputFunc(c, "console",
		func(_ context.Context, v sim.Value) error {
			logrus.WithField("cycles", cycles.Output()).
				Infof("blinker: %v", v)
			return nil
		})

	m := monitoring.NewMonitor()
	m.RegisterCircuit(c)

	if demoPort != 0 {
		m.WithPortNumber(demoPort)
	}

	if demoBrowser {
		m.WithBrowser()
	}

	if err := m.StartServer(); err != nil {
		return err
	}
	defer m.StopServer()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.Run(ctx)
}
