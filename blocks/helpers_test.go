package blocks

import (
	"context"
	"time"

	"github.com/ladderkit/ladder/sim"
)

// runCircuit starts Run on its own goroutine and waits for initialization.
// The returned function shuts the circuit down and reports Run's result.
func runCircuit(ctx context.Context, c *sim.Circuit) (waitErr error, stop func() error) {
	runErr := make(chan error, 1)

	go func() {
		runErr <- c.Run(ctx)
	}()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	waitErr = c.WaitInit(initCtx)

	return waitErr, func() error {
		c.Abort(context.Canceled)
		return <-runErr
	}
}
