package sim

import (
	"context"
	"fmt"
	"sort"
)

// evalLimit bounds the number of combinational evaluations within one
// settling round. Exceeding it means a feedback loop does not converge.
func (c *Circuit) evalLimit() int {
	return 3*len(c.blocks) + 3
}

// fanOut schedules the forward connections of a block whose output changed.
func (c *Circuit) fanOut(b Block) {
	for cb := range b.base().oconnections {
		c.pending[cb.Name()] = cb
	}
}

// drainQueue moves the fan-out of every queued sequential block into the
// pending evaluation set.
func (c *Circuit) drainQueue() {
	for len(c.queue) > 0 {
		sb := c.queue[0]
		c.queue = c.queue[1:]
		c.fanOut(sb)
	}
}

// selectBlock picks the next combinational block to evaluate. The graph may
// contain cycles by design, so this is a heuristic rather than a
// topological sort: a block with none of its upstream dependencies still
// pending wins outright; otherwise the block with the fewest pending
// dependencies is picked. Candidates are visited in name order, which makes
// the tie-break deterministic.
func (c *Circuit) selectBlock() CBlock {
	names := make([]string, 0, len(c.pending))
	for name := range c.pending {
		names = append(names, name)
	}

	sort.Strings(names)

	var best CBlock
	bestScore := int(^uint(0) >> 1)

	for _, name := range names {
		cb := c.pending[name]

		score := 0
		for upstream := range cb.cbase().iconnections {
			if _, ok := c.pending[upstream.Name()]; ok {
				score++
			}
		}

		if score == 0 {
			return cb
		}

		if score < bestScore {
			best = cb
			bestScore = score
		}
	}

	return best
}

// settle evaluates pending combinational blocks until the circuit reaches a
// stable fixed point: both the pending set and the change queue are empty.
// The evaluation counter resets at every stable point; exceeding the limit
// within one round is the instability abort.
func (c *Circuit) settle() error {
	for {
		c.drainQueue()

		if len(c.pending) == 0 {
			c.evalCount = 0

			return nil
		}

		cb := c.selectBlock()
		delete(c.pending, cb.Name())

		c.evalCount++
		if c.evalCount > c.evalLimit() {
			return fmt.Errorf("%w: %d evaluations without reaching a fixed point",
				ErrInstability, c.evalCount)
		}

		changed, err := cb.cbase().evaluate()

		c.InvokeHook(HookCtx{
			Domain: c,
			Pos:    HookPosBlockEvaluate,
			Item:   cb,
			Detail: changed,
		})

		if err != nil {
			return err
		}

		if changed {
			c.fanOut(cb)
		}
	}
}

// loop is the steady-state propagation loop. It settles the circuit, then
// suspends until an external or internal wakeup posts work, then settles
// again. It runs entirely on one goroutine; posted closures execute here and
// nowhere else.
func (c *Circuit) loop(ctx context.Context) error {
	for {
		if err := c.settle(); err != nil {
			return err
		}

		if err := c.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.postCh:
			fn()
			c.drainPosted()
		}
	}
}

// drainPosted runs all immediately available posted closures so one settling
// round covers them together.
func (c *Circuit) drainPosted() {
	for {
		select {
		case fn := <-c.postCh:
			fn()
		default:
			return
		}
	}
}
