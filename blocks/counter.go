// Package blocks provides a library of ready-made circuit blocks built only
// on the public contracts of the sim package: counters, validated inputs,
// timed relays and asynchronous input/output runners.
package blocks

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/ladderkit/ladder/sim"
)

// A Counter is a sequential block counting "inc" and "dec" events. The
// optional "amount" payload field scales one step; "put" sets the count
// directly and "reset" returns to the starting value. With a modulo the
// count wraps into [0, modulo).
type Counter struct {
	sim.SBlockBase

	count   int
	initial int
	modulo  int
}

// NewCounter creates a counter starting at zero.
func NewCounter(c *sim.Circuit, name string, opts ...sim.Option) *Counter {
	b := new(Counter)
	b.InitSBlock(c, b, name, opts...)

	b.RegisterEventHandler("inc", func(data sim.Data) (sim.Value, error) {
		return b.add(eventAmount(data))
	})
	b.RegisterEventHandler("dec", func(data sim.Data) (sim.Value, error) {
		return b.add(-eventAmount(data))
	})
	b.RegisterEventHandler("put", func(data sim.Data) (sim.Value, error) {
		n, err := asInt(data["value"])
		if err != nil {
			return nil, fmt.Errorf("put: %w", err)
		}

		return b.set(n)
	})
	b.RegisterEventHandler("reset", func(sim.Data) (sim.Value, error) {
		return b.set(b.initial)
	})

	return b
}

// WithCounterStart sets the starting value applied at initialization and on
// "reset" events.
func WithCounterStart(n int) sim.Option {
	return func(blk sim.Block) {
		mustCounter(blk, "WithCounterStart").initial = n
	}
}

// WithModulo makes the counter wrap into [0, modulo).
func WithModulo(m int) sim.Option {
	return func(blk sim.Block) {
		if m <= 0 {
			log.Panicf("WithModulo: modulo must be positive, got %d", m)
		}

		mustCounter(blk, "WithModulo").modulo = m
	}
}

func mustCounter(blk sim.Block, option string) *Counter {
	b, ok := blk.(*Counter)
	if !ok {
		log.Panicf("option %s applies to Counter blocks only", option)
	}

	return b
}

// InitRegular enters the starting value.
func (b *Counter) InitRegular() error {
	_, err := b.set(b.initial)
	return err
}

func (b *Counter) add(delta int) (sim.Value, error) {
	return b.set(b.count + delta)
}

func (b *Counter) set(n int) (sim.Value, error) {
	if b.modulo > 0 {
		n = ((n % b.modulo) + b.modulo) % b.modulo
	}

	b.count = n

	return n, b.SetOutput(n)
}

// SaveState captures the count.
func (b *Counter) SaveState() (string, error) {
	encoded, err := json.Marshal(b.count)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// RestoreState resumes a persisted count.
func (b *Counter) RestoreState(encoded string) error {
	var n int
	if err := json.Unmarshal([]byte(encoded), &n); err != nil {
		return err
	}

	_, err := b.set(n)

	return err
}

// eventAmount reads the optional "amount" payload field, defaulting to one
// step. A malformed amount counts as one step.
func eventAmount(data sim.Data) int {
	v, ok := data["amount"]
	if !ok {
		return 1
	}

	n, err := asInt(v)
	if err != nil {
		return 1
	}

	return n
}

func asInt(v sim.Value) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as an integer", v)
	}
}
