package sim

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Block is a node of an automation circuit. Blocks are created into a
// circuit while it is being built and are destroyed only with the circuit.
type Block interface {
	Named

	// Desc returns the optional human description of the block.
	Desc() string

	// Circuit returns the owning circuit.
	Circuit() *Circuit

	// Output returns the current output, UNDEF until the block produces its
	// first value.
	Output() Value

	base() *BlockBase
}

// An EventReceiver is a block that can process events, i.e. a sequential
// block.
type EventReceiver interface {
	Block

	// Event type-checks and processes one event. It returns the handler's
	// result, or ErrUnknownEvent when the block does not handle the type.
	Event(etype EventType, data Data) (Value, error)
}

// Starter is the capability of a block that needs a synchronous start hook
// before circuit initialization.
type Starter interface {
	Start() error
}

// Stopper is the capability of a block that needs a synchronous stop hook
// during circuit shutdown.
type Stopper interface {
	Stop() error
}

// AsyncInitializer is the capability of a block that acquires its initial
// output asynchronously. The orchestrator runs InitAsync concurrently with
// other blocks' initializers, bounded by InitTimeout. An initializer must
// touch only its own block; outputs set during the wave are propagated
// once every initializer has finished.
type AsyncInitializer interface {
	InitAsync(ctx context.Context) error
	InitTimeout() time.Duration
}

// AsyncCleaner is the capability of a block that must release resources
// asynchronously during shutdown. A timeout or failure is logged, never
// fatal.
type AsyncCleaner interface {
	CleanupAsync(ctx context.Context) error
	CleanupTimeout() time.Duration
}

// An Option configures a block at construction time. Misapplying an option
// to a block kind that does not support it is a configuration error and
// panics.
type Option func(b Block)

// WithDesc attaches a human description to the block.
func WithDesc(desc string) Option {
	return func(b Block) {
		b.base().desc = desc
	}
}

// OnOutput attaches events fired on every output change of the block.
func OnOutput(events ...*Event) Option {
	return func(b Block) {
		bb := b.base()
		bb.onOutput = append(bb.onOutput, events...)
	}
}

// WithDebug enables debug logging for this block.
func WithDebug() Option {
	return func(b Block) {
		b.base().debug = true
	}
}

// BlockBase provides the name, output and connection bookkeeping shared by
// all block kinds.
type BlockBase struct {
	name    string
	desc    string
	circuit *Circuit
	output  Value

	// oconnections holds the combinational blocks reading this block's
	// output. Built during circuit finalization.
	oconnections map[CBlock]struct{}

	onOutput []*Event
	debug    bool
	errored  bool

	// staged records an output change made during the asynchronous
	// initialization wave. The wave's goroutines may touch only their own
	// block; the orchestrator propagates staged changes after the wave.
	staged     bool
	stagedPrev Value
}

func (b *BlockBase) base() *BlockBase {
	return b
}

// Name returns the unique name of the block.
func (b *BlockBase) Name() string {
	return b.name
}

// Desc returns the human description of the block.
func (b *BlockBase) Desc() string {
	return b.desc
}

// Circuit returns the owning circuit.
func (b *BlockBase) Circuit() *Circuit {
	return b.circuit
}

// Output returns the current output of the block, UNDEF before the first
// value. A nil output is a real value, distinct from UNDEF.
func (b *BlockBase) Output() Value {
	return b.output
}

// initBase fills in the base fields and registers the block with the
// circuit. Concrete constructors call this exactly once.
func (b *BlockBase) initBase(c *Circuit, self Block, name string, opts []Option) {
	if name == "" {
		name = GetNameGenerator().Generate(blockTypeName(self))
	}

	b.name = name
	b.circuit = c
	b.output = UNDEF
	b.oconnections = make(map[CBlock]struct{})

	c.addBlock(self)

	for _, opt := range opts {
		opt(self)
	}
}

// setOutput records a new output value, fires the on-output events and lets
// the circuit propagate the change. Resetting a defined output back to UNDEF
// is a kernel bug.
func (b *BlockBase) setOutput(self Block, v Value) (bool, error) {
	if !IsDefined(v) {
		if IsDefined(b.Output()) {
			log.Panicf("block %q: output cannot return to UNDEF", b.name)
		}

		return false, nil
	}

	previous := b.Output()
	changed := !IsDefined(previous) || !valuesEqual(previous, v)
	b.output = v

	if !changed {
		return false, nil
	}

	if b.circuit.staging {
		if !b.staged {
			b.staged = true
			b.stagedPrev = previous
		}

		return true, nil
	}

	return true, b.circuit.outputChanged(self, previous, v)
}

func blockTypeName(b Block) string {
	t := reflect.TypeOf(b)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}

func blockString(b Block) string {
	return fmt.Sprintf("%s(%s)", blockTypeName(b), b.Name())
}
