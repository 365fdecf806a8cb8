package sim

import (
	"fmt"
	"sync"
)

// A Value is anything a block can output. The zero of the system is UNDEF,
// not nil: a nil Value is a legitimate output.
type Value = any

type undefined struct{}

func (undefined) String() string {
	return "<UNDEF>"
}

// UNDEF is the sentinel output of a block that has not produced a value yet.
// Once a block's output leaves UNDEF it never returns to it.
var UNDEF Value = undefined{}

// IsDefined reports whether v is a real output value, i.e. not UNDEF.
func IsDefined(v Value) bool {
	_, undef := v.(undefined)
	return !undef
}

// A Const is an immutable literal usable as an input to any block of any
// circuit. Consts are not owned by a circuit and are never evaluated by the
// scheduler.
type Const struct {
	value Value
}

var constCacheMutex sync.Mutex
var constCache = make(map[Value]*Const)

// NewConst returns the Const wrapping the given literal. Consts are interned:
// two calls with the same comparable literal return the same instance.
// Literals that cannot be used as a map key get a fresh instance each time.
func NewConst(v Value) *Const {
	if !isComparable(v) {
		return &Const{value: v}
	}

	constCacheMutex.Lock()
	defer constCacheMutex.Unlock()

	if c, ok := constCache[v]; ok {
		return c
	}

	c := &Const{value: v}
	constCache[v] = c

	return c
}

// Value returns the wrapped literal.
func (c *Const) Value() Value {
	return c.value
}

func (c *Const) String() string {
	return fmt.Sprintf("Const(%v)", c.value)
}

func isComparable(v Value) bool {
	comparable := true

	func() {
		defer func() {
			if recover() != nil {
				comparable = false
			}
		}()
		_ = v == v
	}()

	return comparable
}

// valuesEqual compares two output values, tolerating incomparable types.
// Incomparable values are never considered equal.
func valuesEqual(a, b Value) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()

	return a == b
}
