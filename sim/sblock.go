package sim

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// DefaultInitTimeout bounds a block's asynchronous initialization unless
// overridden with WithInitTimeout.
const DefaultInitTimeout = 10 * time.Second

// DefaultCleanupTimeout bounds a block's asynchronous cleanup unless
// overridden with WithCleanupTimeout.
const DefaultCleanupTimeout = 10 * time.Second

// An SBlock is a sequential block: it has no inputs and its output and
// internal state are mutated only by event handling.
type SBlock interface {
	EventReceiver

	sbase() *SBlockBase
}

// An EventHandler processes one event type for a block.
type EventHandler func(data Data) (Value, error)

// RegularInitializer is the capability of a sequential block that can
// initialize itself synchronously without external input.
type RegularInitializer interface {
	InitRegular() error
}

// StateSaver is the capability of a block whose state can be captured into
// the persistent store. SBlockBase provides a default that saves the output
// value.
type StateSaver interface {
	SaveState() (string, error)
}

// StateRestorer is the capability of a block whose state can be restored
// from the persistent store. SBlockBase provides a default that restores the
// output value.
type StateRestorer interface {
	RestoreState(encoded string) error
}

// SBlockBase provides event dispatch, the reentrancy guard and the
// initialization plumbing shared by sequential blocks.
type SBlockBase struct {
	BlockBase

	self     SBlock
	handlers map[string]EventHandler
	generic  EventHandler

	ignoreUnknown bool
	processing    bool
	relaxGuard    bool

	hasInitDef bool
	initDef    Value

	persistent     bool
	initTimeout    time.Duration
	cleanupTimeout time.Duration
}

func (b *SBlockBase) sbase() *SBlockBase {
	return b
}

// InitSBlock fills in the base fields and registers the block with the
// circuit. Concrete sequential constructors call this exactly once.
func (b *SBlockBase) InitSBlock(
	c *Circuit,
	self SBlock,
	name string,
	opts ...Option,
) {
	b.self = self
	b.handlers = make(map[string]EventHandler)
	b.initTimeout = DefaultInitTimeout
	b.cleanupTimeout = DefaultCleanupTimeout
	b.initBase(c, self, name, opts)
}

// RegisterEventHandler installs the handler for one plain event type. The
// handler table is built once at construction; duplicate names are
// configuration errors and panic.
func (b *SBlockBase) RegisterEventHandler(name EType, h EventHandler) {
	if _, dup := b.handlers[string(name)]; dup {
		log.Panicf("%s: duplicate handler for event %q",
			blockString(b.self), name)
	}

	b.handlers[string(name)] = h
}

// SetGenericHandler installs the fallback handler consulted when no
// specialized handler matches the event type.
func (b *SBlockBase) SetGenericHandler(h EventHandler) {
	b.generic = h
}

// WithInitDef configures a fallback value applied when the block is still
// uninitialized after every other initialization step.
func WithInitDef(v Value) Option {
	return func(blk Block) {
		sb := mustSBlock(blk, "WithInitDef")
		sb.hasInitDef = true
		sb.initDef = v
	}
}

// WithPersistentState enables saving and restoring the block's state
// through the circuit's persistent store.
func WithPersistentState() Option {
	return func(blk Block) {
		mustSBlock(blk, "WithPersistentState").persistent = true
	}
}

// WithUnknownEventsIgnored suppresses the unknown-event error: events the
// block does not handle are silently dropped.
func WithUnknownEventsIgnored() Option {
	return func(blk Block) {
		mustSBlock(blk, "WithUnknownEventsIgnored").ignoreUnknown = true
	}
}

// WithInitTimeout bounds the block's asynchronous initialization.
func WithInitTimeout(d time.Duration) Option {
	return func(blk Block) {
		mustSBlock(blk, "WithInitTimeout").initTimeout = d
	}
}

// WithCleanupTimeout bounds the block's asynchronous cleanup.
func WithCleanupTimeout(d time.Duration) Option {
	return func(blk Block) {
		mustSBlock(blk, "WithCleanupTimeout").cleanupTimeout = d
	}
}

func mustSBlock(blk Block, option string) *SBlockBase {
	sb, ok := blk.(SBlock)
	if !ok {
		log.Panicf("%s: option %s applies to sequential blocks only",
			blockString(blk), option)
	}

	return sb.sbase()
}

// InitTimeout returns the bound on the block's asynchronous initialization.
func (b *SBlockBase) InitTimeout() time.Duration {
	return b.initTimeout
}

// CleanupTimeout returns the bound on the block's asynchronous cleanup.
func (b *SBlockBase) CleanupTimeout() time.Duration {
	return b.cleanupTimeout
}

// PersistKey returns the block's key in the persistent store.
func (b *SBlockBase) PersistKey() string {
	return blockTypeName(b.self) + ":" + b.name
}

// gotoReceiver is implemented by state machine blocks that accept direct
// Goto events.
type gotoReceiver interface {
	gotoState(state string, data Data) (Value, error)
}

// Event type-checks and processes one event. Conditional event types are
// resolved on the boolean "value" payload field first. A specialized handler
// beats the generic handler; with neither, the event is rejected unless the
// block ignores unknown events. Processing an event while another one is
// being processed for the same block is a fatal protocol error, except for
// the one relaxed nested call during a chained state machine transition.
func (b *SBlockBase) Event(etype EventType, data Data) (Value, error) {
	if ud, ok := etype.(UpDown); ok {
		branch := ud.IfFalse
		if Truthy(data["value"]) {
			branch = ud.IfTrue
		}

		if branch == "" {
			return nil, nil
		}

		etype = branch
	}

	if b.processing {
		if !b.relaxGuard {
			err := blockErr(b.self, fmt.Errorf("%w: event %s",
				ErrReentrantEvent, etype))
			b.circuit.Abort(err)

			return nil, err
		}

		b.relaxGuard = false
	} else {
		b.processing = true
		defer func() { b.processing = false }()
	}

	b.circuit.debugf(b.self, "event %s %v", etype, data)

	v, err := b.dispatch(etype, data)
	if err != nil {
		err = blockErr(b.self, err)
	}

	return v, err
}

func (b *SBlockBase) dispatch(etype EventType, data Data) (Value, error) {
	switch t := etype.(type) {
	case Goto:
		if g, ok := b.self.(gotoReceiver); ok {
			return g.gotoState(t.State, data)
		}
	case EType:
		if h, ok := b.handlers[string(t)]; ok {
			return h(data)
		}

		if b.generic != nil {
			return b.generic(data)
		}
	}

	if b.ignoreUnknown {
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, etype)
}

// SetOutput records a new output value from within an event handler or an
// initializer.
func (b *SBlockBase) SetOutput(v Value) error {
	_, err := b.setOutput(b.self, v)
	return err
}

// InitFromValue applies a configured fallback value. The default sets the
// output; blocks with richer internal state override it.
func (b *SBlockBase) InitFromValue(v Value) error {
	return b.SetOutput(v)
}

// SaveState captures the block state for the persistent store. The default
// encodes the output value as JSON.
func (b *SBlockBase) SaveState() (string, error) {
	encoded, err := json.Marshal(b.Output())
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// RestoreState applies a previously saved state. The default decodes the
// output value from JSON.
func (b *SBlockBase) RestoreState(encoded string) error {
	var v Value
	if err := json.Unmarshal([]byte(encoded), &v); err != nil {
		return err
	}

	return b.SetOutput(v)
}
