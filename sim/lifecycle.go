package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Run drives the circuit from finalization to termination and never returns
// while the simulation is healthy. It returns nil after a clean shutdown,
// otherwise the one retained fatal error. Run may be called once.
func (c *Circuit) Run(ctx context.Context) error {
	if !c.runCalled.CompareAndSwap(false, true) {
		return errors.New("circuit is already running")
	}

	if c.State() == CircuitBuilding {
		if err := c.Finalize(); err != nil {
			return err
		}
	}

	if c.State() != CircuitFinalized {
		return ErrNotFinalized
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.errMu.Lock()
	c.cancel = cancel
	c.errMu.Unlock()

	atomic.StoreUint64(&c.loopGID, goid())

	defer close(c.done)
	defer c.setState(CircuitTerminated)

	if err := c.startBlocks(); err != nil {
		c.Abort(err)
		return c.finishErr()
	}

	c.setState(CircuitStarted)
	c.setState(CircuitInitializing)

	if err := c.initialize(ctx); err != nil {
		c.Abort(err)
	}

	if c.Err() == nil {
		c.setState(CircuitRunning)
		close(c.initDone)

		c.Abort(c.loop(ctx))
	}

	c.setState(CircuitStopping)
	c.stopBlocks()

	return c.finishErr()
}

// WaitInit blocks until the circuit reached the running state. It returns
// the retained error when the circuit terminated before getting there.
func (c *Circuit) WaitInit(ctx context.Context) error {
	select {
	case <-c.initDone:
		return nil
	case <-c.done:
		return c.finishErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown aborts the circuit with a cancellation and awaits full
// termination. A circuit that was never run shuts down trivially. Calling
// Shutdown from the simulation's own goroutine would deadlock and is a
// fatal protocol error; use the control block or Abort from inside the
// circuit instead.
func (c *Circuit) Shutdown() error {
	if !c.runCalled.Load() {
		return nil
	}

	if goid() == atomic.LoadUint64(&c.loopGID) {
		log.Panic("Shutdown called from the simulation goroutine")
	}

	c.Abort(context.Canceled)
	<-c.done

	return c.finishErr()
}

// finishErr maps the retained error to the caller-visible result: a clean
// cancellation is not an error.
func (c *Circuit) finishErr() error {
	err := c.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// startBlocks calls every block's start hook in creation order. On failure
// the already-started blocks are stopped again in reverse order.
func (c *Circuit) startBlocks() error {
	var started []Stopper

	for _, b := range c.Blocks() {
		starter, ok := b.(Starter)
		if !ok {
			continue
		}

		if err := starter.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if serr := started[i].Stop(); serr != nil {
					c.log.Warnf("stop after failed start: %v", serr)
				}
			}

			return blockErr(b, fmt.Errorf("start: %w", err))
		}

		if stopper, ok := b.(Stopper); ok {
			started = append(started, stopper)
		}
	}

	return nil
}

// initialize brings every sequential block to a defined output: persisted
// restoration first, then a concurrent bounded wave of asynchronous
// initializations, then regular initialization with the configured fallback
// value as the last resort. A block still undefined afterwards is fatal, as
// is a combinational block that never leaves UNDEF after the initial
// settling round.
func (c *Circuit) initialize(ctx context.Context) error {
	for _, b := range c.Blocks() {
		sb, ok := b.(SBlock)
		if !ok {
			continue
		}

		c.restoreBlock(sb)
	}

	c.asyncInitWave(ctx)

	if err := c.Err(); err != nil {
		return err
	}

	for _, b := range c.Blocks() {
		sb, ok := b.(SBlock)
		if !ok {
			continue
		}

		if err := c.regularInit(sb); err != nil {
			return err
		}
	}

	for _, b := range c.Blocks() {
		if cb, ok := b.(CBlock); ok {
			c.pending[cb.Name()] = cb
		}
	}

	if err := c.settle(); err != nil {
		return err
	}

	for _, b := range c.Blocks() {
		if !IsDefined(b.Output()) {
			return blockErr(b, ErrNotInitialized)
		}
	}

	return nil
}

// restoreBlock attempts persisted-state restoration. Store and decode
// failures are best-effort: logged, block left uninitialized.
func (c *Circuit) restoreBlock(sb SBlock) {
	base := sb.sbase()
	if !base.persistent || c.store == nil {
		return
	}

	encoded, ok, err := c.store.Get(base.PersistKey())
	if err != nil {
		c.log.Warnf("%s: reading persisted state: %v", blockString(sb), err)
		return
	}

	if !ok {
		return
	}

	if err := sb.(StateRestorer).RestoreState(encoded); err != nil {
		c.log.Warnf("%s: restoring persisted state: %v", blockString(sb), err)
	}
}

// asyncInitWave runs the asynchronous initializers of all still-undefined
// blocks concurrently, each bounded by its own timeout. A timeout or
// failure is logged and the block is left for the regular initialization
// pass; the hung task's cancellation is awaited before proceeding. Each
// task touches only its own block: outputs set during the wave are staged
// and propagated here, on the orchestrator goroutine, after the wave.
func (c *Circuit) asyncInitWave(ctx context.Context) {
	var wg sync.WaitGroup

	c.staging = true

	for _, b := range c.Blocks() {
		ai, ok := b.(AsyncInitializer)
		if !ok || IsDefined(b.Output()) {
			continue
		}

		wg.Add(1)

		go func(b Block, ai AsyncInitializer) {
			defer wg.Done()

			initCtx, cancel := context.WithTimeout(ctx, ai.InitTimeout())
			defer cancel()

			if err := ai.InitAsync(initCtx); err != nil {
				c.log.Warnf("%s: async init: %v", blockString(b), err)
			}
		}(b, ai)
	}

	wg.Wait()

	c.staging = false

	for _, b := range c.Blocks() {
		base := b.base()
		if !base.staged {
			continue
		}

		base.staged = false

		if err := c.outputChanged(b, base.stagedPrev, b.Output()); err != nil {
			c.Abort(blockErr(b, err))
			return
		}
	}
}

// regularInit is the final synchronous initialization pass for one block.
func (c *Circuit) regularInit(sb SBlock) error {
	if IsDefined(sb.Output()) {
		return nil
	}

	if ri, ok := sb.(RegularInitializer); ok {
		if err := ri.InitRegular(); err != nil {
			return blockErr(sb, err)
		}
	}

	base := sb.sbase()
	if !IsDefined(sb.Output()) && base.hasInitDef {
		if err := sb.(valueInitializer).InitFromValue(base.initDef); err != nil {
			return blockErr(sb, err)
		}
	}

	return nil
}

type valueInitializer interface {
	InitFromValue(v Value) error
}

// initializeBlock is the eager path: an event arriving at an uninitialized
// block triggers its initialization chain as a last resort.
func (c *Circuit) initializeBlock(sb SBlock) error {
	c.restoreBlock(sb)

	if err := c.regularInit(sb); err != nil {
		return err
	}

	if !IsDefined(sb.Output()) {
		return blockErr(sb, ErrNotInitialized)
	}

	return nil
}

// stopBlocks runs the shutdown sequence: persisted state is saved first,
// then blocks with asynchronous cleanup are stopped and their cleanups
// awaited concurrently under their own timeouts, then every remaining block
// is stopped synchronously. Nothing in here is fatal; failures are logged.
func (c *Circuit) stopBlocks() {
	c.saveAllState()

	var wg sync.WaitGroup

	cleaned := make(map[Block]struct{})

	for _, b := range c.Blocks() {
		ac, ok := b.(AsyncCleaner)
		if !ok {
			continue
		}

		cleaned[b] = struct{}{}
		c.syncStop(b)

		wg.Add(1)

		go func(b Block, ac AsyncCleaner) {
			defer wg.Done()

			cleanCtx, cancel := context.WithTimeout(
				context.Background(), ac.CleanupTimeout())
			defer cancel()

			if err := ac.CleanupAsync(cleanCtx); err != nil {
				c.log.Warnf("%s: async cleanup: %v", blockString(b), err)
			}
		}(b, ac)
	}

	wg.Wait()

	for _, b := range c.Blocks() {
		if _, done := cleaned[b]; done {
			continue
		}

		c.syncStop(b)
	}
}

func (c *Circuit) syncStop(b Block) {
	stopper, ok := b.(Stopper)
	if !ok {
		return
	}

	if err := stopper.Stop(); err != nil {
		c.log.Warnf("%s: stop: %v", blockString(b), err)
	}
}

// saveAllState writes the state of every enabled persistent block plus the
// last-stop timestamp, then prunes keys that no longer correspond to any
// enabled block. Persistence for errored blocks is conservatively disabled:
// their previous value is kept but not overwritten.
func (c *Circuit) saveAllState() {
	if c.store == nil {
		return
	}

	enabled := map[string]struct{}{StopTimeKey: {}}

	for _, b := range c.Blocks() {
		sb, ok := b.(SBlock)
		if !ok || !sb.sbase().persistent {
			continue
		}

		key := sb.sbase().PersistKey()
		enabled[key] = struct{}{}

		if sb.sbase().errored {
			c.log.Warnf("%s: errored, not saving its state", blockString(sb))
			continue
		}

		if !IsDefined(sb.Output()) {
			continue
		}

		encoded, err := sb.(StateSaver).SaveState()
		if err != nil {
			c.log.Warnf("%s: capturing state: %v", blockString(sb), err)
			continue
		}

		if err := c.store.Put(key, encoded); err != nil {
			c.log.Warnf("%s: saving state: %v", blockString(sb), err)
		}
	}

	if err := c.store.Put(
		StopTimeKey, time.Now().Format(time.RFC3339Nano)); err != nil {
		c.log.Warnf("saving stop time: %v", err)
	}

	keys, err := c.store.Keys()
	if err != nil {
		c.log.Warnf("listing persisted keys: %v", err)
		return
	}

	for _, key := range keys {
		if _, ok := enabled[key]; ok {
			continue
		}

		if err := c.store.Delete(key); err != nil {
			c.log.Warnf("pruning key %q: %v", key, err)
		}
	}
}

// goid returns the ID of the calling goroutine. The runtime does not expose
// it; parsing the stack header is the accepted workaround and is cheap
// enough for the two call sites that need it.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
