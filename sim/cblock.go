package sim

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// UnnamedGroup is the reserved input name of the positional input group.
const UnnamedGroup = "_"

// notPrefix is the reserved input-name prefix that auto-materializes a
// logical inverter of the named block.
const notPrefix = "_not_"

// SameName is the input placeholder that resolves a named input to the
// eponymous block.
var SameName = sameName{}

type sameName struct{}

// A CBlock is a combinational block: its output is a pure function of its
// current input values. It is recomputed on demand by the scheduler and
// never mutated by events.
type CBlock interface {
	Block

	// Calc computes the output from the current input values.
	Calc() (Value, error)

	cbase() *CBlockBase
}

// An InputSpec describes one named input or input group passed to Connect.
type InputSpec struct {
	name  string
	group bool
	refs  []any
}

// Ins declares the positional (unnamed) input group.
func Ins(refs ...any) InputSpec {
	return InputSpec{name: UnnamedGroup, group: true, refs: refs}
}

// In declares a single named input. The reference is a Block, a *Const, a
// block name (string), the SameName placeholder, or any other literal which
// is wrapped into a Const.
func In(name string, ref any) InputSpec {
	return InputSpec{name: name, refs: []any{ref}}
}

// InGroup declares a named ordered input group.
func InGroup(name string, refs ...any) InputSpec {
	return InputSpec{name: name, group: true, refs: refs}
}

type inputSlot struct {
	group bool
	refs  []any
}

// CBlockBase provides the input bookkeeping shared by combinational blocks.
type CBlockBase struct {
	BlockBase

	self      CBlock
	connected bool
	inputs    map[string]*inputSlot

	// iconnections holds the non-constant upstream blocks. Built during
	// circuit finalization.
	iconnections map[Block]struct{}
}

func (b *CBlockBase) cbase() *CBlockBase {
	return b
}

// InitCBlock fills in the base fields and registers the block with the
// circuit. Concrete combinational constructors call this exactly once.
func (b *CBlockBase) InitCBlock(
	c *Circuit,
	self CBlock,
	name string,
	opts ...Option,
) {
	b.self = self
	b.inputs = make(map[string]*inputSlot)
	b.iconnections = make(map[Block]struct{})
	b.initBase(c, self, name, opts)
}

// Connect declares the block's inputs. It may be called exactly once per
// block, before the circuit is finalized. Violations are configuration
// errors and panic.
func (b *CBlockBase) Connect(specs ...InputSpec) {
	if b.circuit.State() != CircuitBuilding {
		log.Panicf("%s: cannot connect: %v", blockString(b.self), ErrFinalized)
	}

	if b.connected {
		log.Panicf("%s: connect may only be called once", blockString(b.self))
	}

	b.connected = true

	for _, spec := range specs {
		if _, dup := b.inputs[spec.name]; dup {
			log.Panicf("%s: duplicate input name %q", blockString(b.self), spec.name)
		}

		if spec.name == "" {
			log.Panicf("%s: input name must not be empty", blockString(b.self))
		}

		if spec.name == UnnamedGroup && !spec.group {
			log.Panicf("%s: input name %q is reserved for the positional group",
				blockString(b.self), UnnamedGroup)
		}

		refs := make([]any, len(spec.refs))
		copy(refs, spec.refs)
		b.inputs[spec.name] = &inputSlot{group: spec.group, refs: refs}
	}
}

// resolveInputs turns every input reference into a Block or a *Const and
// wires the iconnections/oconnections symmetrically. Called by the circuit
// during finalization.
func (b *CBlockBase) resolveInputs(c *Circuit) error {
	for name, slot := range b.inputs {
		for i, ref := range slot.refs {
			resolved, err := b.resolveRef(c, name, ref)
			if err != nil {
				return fmt.Errorf("%s, input %q: %w", blockString(b.self), name, err)
			}

			slot.refs[i] = resolved

			if upstream, ok := resolved.(Block); ok {
				b.iconnections[upstream] = struct{}{}
				upstream.base().oconnections[b.self] = struct{}{}
			}
		}
	}

	return nil
}

func (b *CBlockBase) resolveRef(
	c *Circuit,
	inputName string,
	ref any,
) (any, error) {
	switch r := ref.(type) {
	case Block:
		if r.Circuit() != c {
			return nil, fmt.Errorf(
				"block %q belongs to a different circuit", r.Name())
		}

		return r, nil
	case *Const:
		return r, nil
	case sameName:
		if inputName == UnnamedGroup {
			return nil, fmt.Errorf(
				"the same-name placeholder cannot appear in the positional group")
		}

		return c.findOrMaterialize(inputName)
	case string:
		return c.findOrMaterialize(r)
	default:
		return NewConst(ref), nil
	}
}

// InVal returns the current value of a single named input.
func (b *CBlockBase) InVal(name string) Value {
	slot, ok := b.inputs[name]
	if !ok || slot.group || len(slot.refs) != 1 {
		log.Panicf("%s: no single input named %q", blockString(b.self), name)
	}

	return refValue(slot.refs[0])
}

// GroupVals returns the current values of a named input group, in
// declaration order.
func (b *CBlockBase) GroupVals(name string) []Value {
	slot, ok := b.inputs[name]
	if !ok || !slot.group {
		log.Panicf("%s: no input group named %q", blockString(b.self), name)
	}

	vals := make([]Value, len(slot.refs))
	for i, ref := range slot.refs {
		vals[i] = refValue(ref)
	}

	return vals
}

func refValue(ref any) Value {
	switch r := ref.(type) {
	case *Const:
		return r.Value()
	case Block:
		return r.Output()
	default:
		return UNDEF
	}
}

// inputsDefined reports whether every input currently carries a defined
// value.
func (b *CBlockBase) inputsDefined() bool {
	for _, slot := range b.inputs {
		for _, ref := range slot.refs {
			if !IsDefined(refValue(ref)) {
				return false
			}
		}
	}

	return true
}

// evaluate recomputes the output. With any input still UNDEF the output
// stays UNDEF and the evaluation does not count as a change.
func (b *CBlockBase) evaluate() (bool, error) {
	if !b.inputsDefined() {
		return false, nil
	}

	v, err := b.self.Calc()
	if err != nil {
		return false, blockErr(b.self, err)
	}

	return b.setOutput(b.self, v)
}

// A SigSpec describes the expected shape of one input: a single connection,
// or a group with Min..Max members (Max < 0 means unlimited).
type SigSpec struct {
	Group bool
	Min   int
	Max   int
}

// Single is the SigSpec of a plain single input.
var Single = SigSpec{}

// GroupOf returns the SigSpec of a group with an exact member count.
func GroupOf(n int) SigSpec {
	return SigSpec{Group: true, Min: n, Max: n}
}

// GroupRange returns the SigSpec of a group with a bounded member count.
// max < 0 means unlimited.
func GroupRange(min, max int) SigSpec {
	return SigSpec{Group: true, Min: min, Max: max}
}

// CheckSignature verifies the connected inputs against the expected shape
// and returns a precise diagnostic on the first mismatch, including
// "did you mean" suggestions for likely input-name typos.
func (b *CBlockBase) CheckSignature(expected map[string]SigSpec) error {
	var names []string
	for name := range b.inputs {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if _, ok := expected[name]; ok {
			continue
		}

		msg := fmt.Sprintf("%s: unexpected input %q", blockString(b.self), name)
		if s := closestName(name, expected); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}

		return fmt.Errorf("%s", msg)
	}

	var expNames []string
	for name := range expected {
		expNames = append(expNames, name)
	}

	sort.Strings(expNames)

	for _, name := range expNames {
		spec := expected[name]

		slot, ok := b.inputs[name]
		if !ok {
			return fmt.Errorf("%s: missing input %q",
				blockString(b.self), name)
		}

		if spec.Group != slot.group {
			if spec.Group {
				return fmt.Errorf("%s: input %q must be a group",
					blockString(b.self), name)
			}

			return fmt.Errorf("%s: input %q must be a single connection",
				blockString(b.self), name)
		}

		if !spec.Group {
			continue
		}

		n := len(slot.refs)
		if n < spec.Min {
			return fmt.Errorf("%s: input group %q has %d members, need at least %d",
				blockString(b.self), name, n, spec.Min)
		}

		if spec.Max >= 0 && n > spec.Max {
			return fmt.Errorf("%s: input group %q has %d members, need at most %d",
				blockString(b.self), name, n, spec.Max)
		}
	}

	return nil
}

func closestName(name string, expected map[string]SigSpec) string {
	best := ""
	bestDist := 3 // suggest only close matches

	for candidate := range expected {
		d := editDistance(strings.ToLower(name), strings.ToLower(candidate))
		if d < bestDist {
			best = candidate
			bestDist = d
		}
	}

	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// Truthy converts an output value to a boolean the way the inverter and the
// conditional event types do: false, nil, zero numbers, empty strings and
// UNDEF are false, everything else is true.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case undefined:
		return false
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// An Invert block outputs the logical negation of its single input. The
// circuit materializes one automatically for input names using the "_not_"
// prefix.
type Invert struct {
	CBlockBase
}

// NewInvert creates an inverter block.
func NewInvert(c *Circuit, name string, opts ...Option) *Invert {
	n := new(Invert)
	n.InitCBlock(c, n, name, opts...)

	return n
}

// Calc returns the negated input.
func (n *Invert) Calc() (Value, error) {
	return !Truthy(n.InVal("in")), nil
}
