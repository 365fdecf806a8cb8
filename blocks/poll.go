package blocks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ladderkit/ladder/sim"
)

// A SampleFunc produces one sample of an external value.
type SampleFunc func(ctx context.Context) (sim.Value, error)

// A Poll is an input block sampling a user function periodically. The first
// sample is taken during asynchronous initialization; afterwards a service
// goroutine injects each sample into the circuit. A failed sample is logged
// and skipped.
type Poll struct {
	sim.SBlockBase

	sample   SampleFunc
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoll creates a poll block sampling fn every interval.
func NewPoll(
	c *sim.Circuit,
	name string,
	interval time.Duration,
	fn SampleFunc,
	opts ...sim.Option,
) *Poll {
	b := &Poll{
		sample:   fn,
		interval: interval,
		done:     make(chan struct{}),
	}
	b.InitSBlock(c, b, name, opts...)

	b.RegisterEventHandler("put", func(data sim.Data) (sim.Value, error) {
		return true, b.SetOutput(data["value"])
	})

	return b
}

// InitAsync takes the first sample.
func (b *Poll) InitAsync(ctx context.Context) error {
	v, err := b.sample(ctx)
	if err != nil {
		return err
	}

	return b.SetOutput(v)
}

// Start launches the sampling goroutine.
func (b *Poll) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go b.run(ctx)

	return nil
}

func (b *Poll) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := b.sample(ctx)
			if err != nil {
				logrus.WithField("block", b.Name()).
					Warnf("sample failed: %v", err)
				continue
			}

			b.Circuit().Inject(b, sim.EType("put"), sim.Data{"value": v})
		}
	}
}

// Stop cancels the sampling goroutine.
func (b *Poll) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	return nil
}

// CleanupAsync awaits the sampling goroutine's exit.
func (b *Poll) CleanupAsync(ctx context.Context) error {
	if b.cancel == nil {
		return nil
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
