package blocks

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"

	"github.com/ladderkit/ladder/sim"
)

// An Input is a sequential block holding an externally supplied value. A
// "put" event carrying a "value" field replaces the output when the value
// passes the configured validators; a rejected value leaves the output
// untouched and the event returns false instead of failing.
type Input struct {
	sim.SBlockBase

	schema  func(v sim.Value) (sim.Value, error)
	checks  []func(v sim.Value) bool
	allowed []sim.Value
}

// NewInput creates an input block. Combine with sim.WithInitDef for the
// initial value and sim.WithPersistentState to survive restarts.
func NewInput(c *sim.Circuit, name string, opts ...sim.Option) *Input {
	b := new(Input)
	b.InitSBlock(c, b, name, opts...)

	b.RegisterEventHandler("put", func(data sim.Data) (sim.Value, error) {
		v, ok := b.accept(data["value"])
		if !ok {
			return false, nil
		}

		return true, b.SetOutput(v)
	})

	return b
}

// WithSchema installs a conversion validator: it may normalize the incoming
// value or reject it with an error.
func WithSchema(fn func(v sim.Value) (sim.Value, error)) sim.Option {
	return func(blk sim.Block) {
		mustInput(blk, "WithSchema").schema = fn
	}
}

// WithCheck adds a predicate validator. All checks must pass.
func WithCheck(fn func(v sim.Value) bool) sim.Option {
	return func(blk sim.Block) {
		b := mustInput(blk, "WithCheck")
		b.checks = append(b.checks, fn)
	}
}

// WithAllowed restricts the input to an explicit value set.
func WithAllowed(values ...sim.Value) sim.Option {
	return func(blk sim.Block) {
		b := mustInput(blk, "WithAllowed")
		b.allowed = append(b.allowed, values...)
	}
}

func mustInput(blk sim.Block, option string) *Input {
	b, ok := blk.(*Input)
	if !ok {
		log.Panicf("option %s applies to Input blocks only", option)
	}

	return b
}

func (b *Input) accept(v sim.Value) (sim.Value, bool) {
	if b.schema != nil {
		converted, err := b.schema(v)
		if err != nil {
			return nil, false
		}

		v = converted
	}

	for _, check := range b.checks {
		if !check(v) {
			return nil, false
		}
	}

	if len(b.allowed) > 0 {
		for _, a := range b.allowed {
			if reflect.DeepEqual(a, v) {
				return v, true
			}
		}

		return nil, false
	}

	return v, true
}

// RestoreState resumes a persisted value. The value is validated again: a
// value the current configuration would reject fails the restoration.
func (b *Input) RestoreState(encoded string) error {
	var v sim.Value
	if err := json.Unmarshal([]byte(encoded), &v); err != nil {
		return err
	}

	accepted, ok := b.accept(v)
	if !ok {
		return fmt.Errorf("persisted value %v is no longer acceptable", v)
	}

	return b.SetOutput(accepted)
}
