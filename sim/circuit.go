package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CircuitState is the lifecycle state of a circuit.
type CircuitState int

// The lifecycle states, in order.
const (
	CircuitBuilding CircuitState = iota
	CircuitFinalized
	CircuitStarted
	CircuitInitializing
	CircuitRunning
	CircuitStopping
	CircuitTerminated
)

func (s CircuitState) String() string {
	switch s {
	case CircuitBuilding:
		return "building"
	case CircuitFinalized:
		return "finalized"
	case CircuitStarted:
		return "started"
	case CircuitInitializing:
		return "initializing"
	case CircuitRunning:
		return "running"
	case CircuitStopping:
		return "stopping"
	case CircuitTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("CircuitState(%d)", int(s))
	}
}

// ctrlName is the reserved name of the auto-materialized control block.
const ctrlName = "_ctrl"

// A BlockType selects all blocks of one concrete type for SetDebug.
type BlockType string

// A Circuit owns a set of blocks and runs them under the zero-delay
// discrete-event simulation model. Blocks are added and connected while the
// circuit is building; finalization freezes the topology; Run drives the
// lifecycle to termination.
type Circuit struct {
	HookableBase

	name string
	log  *logrus.Entry

	blocks map[string]Block
	order  []string

	stateMu sync.RWMutex
	state   CircuitState

	errMu sync.Mutex
	err   error

	runCalled atomic.Bool
	cancel    context.CancelFunc
	postCh    chan func()

	// queue is the FIFO of sequential blocks whose output changed since it
	// was last drained. pending is the evaluation set of combinational
	// blocks. Both are touched only by the simulation goroutine.
	queue   []SBlock
	pending map[string]CBlock

	evalCount int

	// staging is true while the async-init wave runs. Output changes made
	// by the wave's goroutines are recorded on their own block and
	// propagated by the orchestrator once the wave is over.
	staging bool

	store Store

	initDone chan struct{}
	done     chan struct{}
	loopGID  uint64

	// debugMu guards the debug selection: SetDebug may be called from any
	// goroutine while the simulation goroutine consults the selection on
	// every event and output change.
	debugMu       sync.RWMutex
	debugAll      bool
	debugPatterns []string
	debugTypes    map[string]struct{}
	debugBlocks   map[Block]struct{}
}

// A CircuitOption configures a circuit at construction time.
type CircuitOption func(c *Circuit)

// WithCircuitName names the circuit. The name appears in log records.
func WithCircuitName(name string) CircuitOption {
	return func(c *Circuit) {
		c.name = name
	}
}

// WithStore injects the persistent key/value store used for block state.
func WithStore(store Store) CircuitOption {
	return func(c *Circuit) {
		c.store = store
	}
}

// WithLogger routes the circuit's log records to the given logger.
func WithLogger(logger *logrus.Logger) CircuitOption {
	return func(c *Circuit) {
		c.log = logger.WithField("circuit", c.name)
	}
}

// NewCircuit creates an empty circuit in the building state.
func NewCircuit(opts ...CircuitOption) *Circuit {
	c := &Circuit{
		name:        "circuit",
		blocks:      make(map[string]Block),
		pending:     make(map[string]CBlock),
		postCh:      make(chan func(), 1024),
		initDone:    make(chan struct{}),
		done:        make(chan struct{}),
		debugTypes:  make(map[string]struct{}),
		debugBlocks: make(map[Block]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logrus.StandardLogger().WithField("circuit", c.name)
	}

	return c
}

// Name returns the circuit name.
func (c *Circuit) Name() string {
	return c.name
}

// State returns the current lifecycle state.
func (c *Circuit) State() CircuitState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.state
}

func (c *Circuit) setState(s CircuitState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()

	c.log.Debugf("state -> %s", s)
	c.InvokeHook(HookCtx{Domain: c, Pos: HookPosCircuitState, Item: s})
}

// addBlock registers a block. Adding blocks after finalization or reusing a
// name is a configuration error and panics.
func (c *Circuit) addBlock(b Block) {
	if c.State() != CircuitBuilding {
		log.Panicf("cannot add %s: %v", blockString(b), ErrFinalized)
	}

	name := b.Name()
	if _, dup := c.blocks[name]; dup {
		log.Panicf("duplicate block name %q", name)
	}

	c.blocks[name] = b
	c.order = append(c.order, name)
}

// Block returns the block with the given name, or nil.
func (c *Circuit) Block(name string) Block {
	return c.blocks[name]
}

// Blocks returns all blocks in creation order.
func (c *Circuit) Blocks() []Block {
	blocks := make([]Block, 0, len(c.order))
	for _, name := range c.order {
		blocks = append(blocks, c.blocks[name])
	}

	return blocks
}

func (c *Circuit) findBlock(name string) (Block, error) {
	b, ok := c.blocks[name]
	if !ok {
		return nil, fmt.Errorf("no block named %q", name)
	}

	return b, nil
}

// findOrMaterialize resolves a block name, auto-materializing the two kinds
// of synthetic blocks: "_not_X" creates an inverter reading block X, and the
// reserved control name creates the control block.
func (c *Circuit) findOrMaterialize(name string) (Block, error) {
	if b, ok := c.blocks[name]; ok {
		return b, nil
	}

	if name == ctrlName {
		return newControl(c), nil
	}

	if base, ok := strings.CutPrefix(name, notPrefix); ok {
		src, err := c.findOrMaterialize(base)
		if err != nil {
			return nil, fmt.Errorf("cannot invert: %w", err)
		}

		inv := NewInvert(c, name)
		inv.Connect(In("in", src))

		return inv, nil
	}

	return nil, fmt.Errorf("no block named %q", name)
}

// eventHolder lets block types expose the events that need destination
// resolution at finalization.
type eventHolder interface {
	pendingEvents() []*Event
}

func (b *BlockBase) pendingEvents() []*Event {
	return b.onOutput
}

func (f *FSM) pendingEvents() []*Event {
	events := append([]*Event{}, f.onOutput...)
	for _, evs := range f.onEnter {
		events = append(events, evs...)
	}

	for _, evs := range f.onExit {
		events = append(events, evs...)
	}

	events = append(events, f.onNoTrans...)

	return events
}

// Finalize resolves every input and event reference, builds the
// iconnections and oconnections symmetrically and freezes the topology.
// Run finalizes automatically; calling Finalize earlier is optional.
func (c *Circuit) Finalize() error {
	if c.State() != CircuitBuilding {
		return ErrFinalized
	}

	// Resolution may materialize inverter and control blocks, which extends
	// the order slice; the index loop picks them up.
	for i := 0; i < len(c.order); i++ {
		b := c.blocks[c.order[i]]

		if cb, ok := b.(CBlock); ok {
			if err := cb.cbase().resolveInputs(c); err != nil {
				return err
			}
		}
	}

	for _, name := range c.order {
		holder, ok := c.blocks[name].(eventHolder)
		if !ok {
			continue
		}

		for _, ev := range holder.pendingEvents() {
			if err := ev.resolve(c); err != nil {
				return err
			}
		}
	}

	c.setState(CircuitFinalized)

	return nil
}

// deliver routes one event to its destination on the simulation goroutine.
// A destination that has never produced an output is initialized eagerly
// first; events may legitimately arrive while the circuit is still
// initializing.
func (c *Circuit) deliver(
	dest EventReceiver,
	etype EventType,
	data Data,
) error {
	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosEventDeliver,
		Item:   dest,
		Detail: etype,
	})

	if sb, ok := dest.(SBlock); ok && !IsDefined(dest.Output()) &&
		c.State() >= CircuitStarted {
		if err := c.initializeBlock(sb); err != nil {
			return err
		}
	}

	_, err := dest.Event(etype, data)

	return err
}

// Inject delivers an event from outside the simulation goroutine. It is the
// only safe way for timers, pollers and other goroutines to talk to a
// running circuit.
func (c *Circuit) Inject(dest EventReceiver, etype EventType, data Data) {
	c.post(func() {
		if err := c.deliver(dest, etype, data); err != nil {
			c.Abort(err)
		}
	})
}

// post hands a closure to the simulation goroutine. After termination the
// closure is dropped.
func (c *Circuit) post(fn func()) {
	select {
	case c.postCh <- fn:
	case <-c.done:
	}
}

// outputChanged propagates a block's output change: the change is logged,
// hooks run, a sequential block is queued for fan-out evaluation, and the
// block's on-output events fire.
func (c *Circuit) outputChanged(b Block, previous, v Value) error {
	c.debugf(b, "output %v -> %v", previous, v)

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosOutputChange,
		Item:   b,
		Detail: v,
	})

	if sb, ok := b.(SBlock); ok {
		c.queue = append(c.queue, sb)
	}

	for _, ev := range b.base().onOutput {
		if err := ev.Send(b, Data{
			"previous": previous,
			"value":    v,
			"trigger":  "output",
		}); err != nil {
			return err
		}
	}

	return nil
}

// Abort stores the fatal error and cancels the running simulation. Only the
// first error is retained; subsequent aborts are ignored, except that a
// cancellation is always compatible with an existing error.
func (c *Circuit) Abort(err error) {
	if err == nil {
		return
	}

	c.errMu.Lock()

	if c.err == nil {
		c.err = err
		c.log.Debugf("aborting: %v", err)
	} else if !errors.Is(err, context.Canceled) {
		c.log.Debugf("abort ignored, already failing with %v: %v", c.err, err)
	}

	cancel := c.cancel
	c.errMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Err returns the retained fatal error, if any.
func (c *Circuit) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.err
}

// SetDebug toggles debug logging for the selected blocks. A selector is a
// block reference, a block name or path pattern ("*" enables all blocks), or
// a BlockType selecting every block of one concrete type. SetDebug is safe
// to call while the circuit is running.
func (c *Circuit) SetDebug(on bool, selectors ...any) {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()

	for _, sel := range selectors {
		switch s := sel.(type) {
		case string:
			if s == "*" {
				c.debugAll = on
				continue
			}

			if on {
				c.debugPatterns = append(c.debugPatterns, s)
			} else {
				c.debugPatterns = removeString(c.debugPatterns, s)
			}
		case BlockType:
			if on {
				c.debugTypes[string(s)] = struct{}{}
			} else {
				delete(c.debugTypes, string(s))
			}
		case Block:
			if on {
				c.debugBlocks[s] = struct{}{}
			} else {
				delete(c.debugBlocks, s)
			}
		default:
			log.Panicf("SetDebug: unsupported selector %T", sel)
		}
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}

	return out
}

func (c *Circuit) debugEnabled(b Block) bool {
	c.debugMu.RLock()
	defer c.debugMu.RUnlock()

	if c.debugAll || b.base().debug {
		return true
	}

	if _, ok := c.debugBlocks[b]; ok {
		return true
	}

	if _, ok := c.debugTypes[blockTypeName(b)]; ok {
		return true
	}

	for _, pattern := range c.debugPatterns {
		if ok, _ := path.Match(pattern, b.Name()); ok {
			return true
		}
	}

	return false
}

func (c *Circuit) debugf(b Block, format string, args ...any) {
	if !c.debugEnabled(b) {
		return
	}

	c.log.WithField("block", blockString(b)).Debugf(format, args...)
}

func (c *Circuit) logger() *logrus.Entry {
	return c.log
}
