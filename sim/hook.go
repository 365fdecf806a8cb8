package sim

// HookPos is an enum of the positions at which a hook can be invoked.
type HookPos struct {
	Name string
}

// HookPosOutputChange triggers after a block's output changed.
var HookPosOutputChange = &HookPos{Name: "OutputChange"}

// HookPosEventDeliver triggers before an event is delivered to a block.
var HookPosEventDeliver = &HookPos{Name: "EventDeliver"}

// HookPosBlockEvaluate triggers after the scheduler evaluated a
// combinational block.
var HookPosBlockEvaluate = &HookPos{Name: "BlockEvaluate"}

// HookPosCircuitState triggers when the circuit moves to a new lifecycle
// state.
var HookPosCircuitState = &HookPos{Name: "CircuitState"}

// HookCtx carries the information about the site where a hook is invoked.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is an object that accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)
}

// A Hook is a short piece of program invoked by a hookable object.
type Hook interface {
	// Func determines what to do when the hook is invoked.
	Func(ctx HookCtx)
}

// HookableBase provides the hook bookkeeping for types that implement the
// Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// InvokeHook triggers all registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
