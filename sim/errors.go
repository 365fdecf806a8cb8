package sim

import (
	"errors"
	"fmt"
)

// Sentinel errors of the kernel. Configuration errors surface synchronously
// while the circuit is being built. Protocol and initialization errors abort
// the circuit; the first one wins.
var (
	// ErrFinalized reports an attempt to change the circuit topology after
	// finalization.
	ErrFinalized = errors.New("circuit already finalized")

	// ErrNotFinalized reports an operation that requires a finalized circuit.
	ErrNotFinalized = errors.New("circuit not finalized")

	// ErrUnknownEvent reports an event type the destination block does not
	// handle.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrReentrantEvent reports an event delivered to a block that is still
	// processing a previous event.
	ErrReentrantEvent = errors.New("reentrant event delivery")

	// ErrInstability reports a non-converging feedback loop detected by the
	// scheduler.
	ErrInstability = errors.New("circuit instability (oscillation)")

	// ErrChainLimit reports a chained transition sequence that never settles.
	ErrChainLimit = errors.New("chained transition limit exceeded")

	// ErrDoubleChain reports a second chained transition scheduled before the
	// first one resolved.
	ErrDoubleChain = errors.New("chained transition already scheduled")

	// ErrNotInitialized reports a block left without a defined output after
	// all initialization steps.
	ErrNotInitialized = errors.New("block not initialized")
)

// A BlockError wraps an error raised while evaluating or handling an event on
// a particular block. It identifies the offending block on the way up to the
// orchestrator.
type BlockError struct {
	BlockName string
	Err       error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %q: %v", e.BlockName, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

func blockErr(b Block, err error) error {
	b.base().errored = true

	var be *BlockError
	if errors.As(err, &be) {
		return err
	}

	return &BlockError{BlockName: b.Name(), Err: err}
}
