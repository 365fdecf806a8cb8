package blocks

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ladderkit/ladder/sim"
)

// A DriveFunc pushes one value to the outside world.
type DriveFunc func(ctx context.Context, v sim.Value) error

// An OutputFunc is a sequential block driving a user callback: each "put"
// event hands its "value" field to the callback. Synchronous by default; in
// asynchronous mode the callback runs on its own goroutine and a failure
// aborts the circuit. The output mirrors the last value handed over.
type OutputFunc struct {
	sim.SBlockBase

	drive    DriveFunc
	async    bool
	inflight atomic.Int64
}

// NewOutputFunc creates an output block driving fn.
func NewOutputFunc(
	c *sim.Circuit,
	name string,
	fn DriveFunc,
	opts ...sim.Option,
) *OutputFunc {
	b := &OutputFunc{drive: fn}
	b.InitSBlock(c, b, name, opts...)

	b.RegisterEventHandler("put", func(data sim.Data) (sim.Value, error) {
		v := data["value"]
		if b.async {
			b.driveAsync(v)
			return true, b.SetOutput(v)
		}

		if err := b.drive(context.Background(), v); err != nil {
			return nil, err
		}

		return true, b.SetOutput(v)
	})

	return b
}

// WithAsyncDrive moves the callback off the simulation goroutine. Callback
// failures become fatal circuit errors.
func WithAsyncDrive() sim.Option {
	return func(blk sim.Block) {
		b, ok := blk.(*OutputFunc)
		if !ok {
			log.Panic("option WithAsyncDrive applies to OutputFunc blocks only")
		}

		b.async = true
	}
}

func (b *OutputFunc) driveAsync(v sim.Value) {
	b.inflight.Add(1)

	go func() {
		defer b.inflight.Add(-1)

		if err := b.drive(context.Background(), v); err != nil {
			b.Circuit().Abort(fmt.Errorf("%s: drive: %w", b.Name(), err))
		}
	}()
}

// InitRegular produces the initial nil output: nothing driven yet.
func (b *OutputFunc) InitRegular() error {
	return b.SetOutput(nil)
}

// CleanupAsync awaits the in-flight asynchronous callbacks by polling the
// in-flight counter. A callback that never returns runs the wait into the
// timeout without leaving a waiter goroutine behind.
func (b *OutputFunc) CleanupAsync(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.inflight.Load() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
