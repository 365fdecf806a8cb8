package sim

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// A TransitionDef declares one row of a state machine's transition table.
// An empty From list declares the wildcard row for the event: it applies in
// every state without an exact row.
type TransitionDef struct {
	Event EType
	From  []string
	To    string
}

// A TimerDef declares a timed state: after Duration in the state, the
// Expired event (a plain EType or a direct Goto) is delivered to the block,
// unless the state is exited first.
type TimerDef struct {
	Duration time.Duration
	Expired  EventType
}

// A CondFunc is a transition guard. It receives the event payload and
// returns whether the transition may be taken.
type CondFunc func(data Data) bool

// An ActionFunc is an enter or exit callback. It receives the payload of the
// event that caused the state change.
type ActionFunc func(data Data)

// An FSMDef declares the control table of one state machine block type.
type FSMDef struct {
	// States lists the declared states. The first one is the default
	// initial state.
	States []string

	Transitions []TransitionDef

	// Timers maps timed states to their default duration and expiry event.
	// Timed states not listed in States are added to the state set.
	Timers map[string]TimerDef

	// Cond holds the type-level transition guards, keyed by event name.
	Cond map[EType]CondFunc

	// Enter and Exit hold the type-level state callbacks, keyed by state.
	Enter map[string]ActionFunc
	Exit  map[string]ActionFunc
}

type transKey struct {
	event string
	state string
}

// An FSMTable is the compiled, immutable control table shared by all
// instances of one state machine block type. Instance-level overrides never
// mutate it.
type FSMTable struct {
	states      []string
	stateSet    map[string]struct{}
	events      map[string]struct{}
	transitions map[transKey]string
	timers      map[string]TimerDef
	cond        map[string]CondFunc
	enter       map[string]ActionFunc
	exit        map[string]ActionFunc
}

// CompileFSM compiles a declaration into the immutable control table.
// Conflicting declarations are configuration errors and panic. Compile once
// per block type, typically into a package-level variable.
func CompileFSM(def FSMDef) *FSMTable {
	t := &FSMTable{
		stateSet:    make(map[string]struct{}),
		events:      make(map[string]struct{}),
		transitions: make(map[transKey]string),
		timers:      make(map[string]TimerDef),
		cond:        make(map[string]CondFunc),
		enter:       make(map[string]ActionFunc),
		exit:        make(map[string]ActionFunc),
	}

	for _, s := range def.States {
		if s == "" {
			log.Panic("fsm: state name must not be empty")
		}

		if _, dup := t.stateSet[s]; dup {
			log.Panicf("fsm: duplicate state %q", s)
		}

		t.states = append(t.states, s)
		t.stateSet[s] = struct{}{}
	}

	for s, td := range def.Timers {
		if _, ok := t.stateSet[s]; !ok {
			t.states = append(t.states, s)
			t.stateSet[s] = struct{}{}
		}

		switch e := td.Expired.(type) {
		case EType:
			t.events[string(e)] = struct{}{}
		case Goto:
			if _, ok := t.stateSet[e.State]; !ok {
				log.Panicf("fsm: timer of state %q expires into unknown state %q",
					s, e.State)
			}
		default:
			log.Panicf("fsm: timer of state %q has no expiry event", s)
		}

		t.timers[s] = td
	}

	if len(t.states) == 0 {
		log.Panic("fsm: at least one state is required")
	}

	for _, tr := range def.Transitions {
		if tr.Event == "" {
			log.Panic("fsm: transition event must not be empty")
		}

		if _, ok := t.stateSet[tr.To]; !ok {
			log.Panicf("fsm: transition %q targets unknown state %q",
				tr.Event, tr.To)
		}

		t.events[string(tr.Event)] = struct{}{}

		froms := tr.From
		if len(froms) == 0 {
			froms = []string{""}
		}

		for _, from := range froms {
			if from != "" {
				if _, ok := t.stateSet[from]; !ok {
					log.Panicf("fsm: transition %q from unknown state %q",
						tr.Event, from)
				}
			}

			key := transKey{event: string(tr.Event), state: from}
			if _, dup := t.transitions[key]; dup {
				log.Panicf("fsm: duplicate transition (%s, %s)",
					tr.Event, from)
			}

			t.transitions[key] = tr.To
		}
	}

	for e, f := range def.Cond {
		if _, ok := t.events[string(e)]; !ok {
			log.Panicf("fsm: guard for unknown event %q", e)
		}

		t.cond[string(e)] = f
	}

	for s, f := range def.Enter {
		if _, ok := t.stateSet[s]; !ok {
			log.Panicf("fsm: enter callback for unknown state %q", s)
		}

		t.enter[s] = f
	}

	for s, f := range def.Exit {
		if _, ok := t.stateSet[s]; !ok {
			log.Panicf("fsm: exit callback for unknown state %q", s)
		}

		t.exit[s] = f
	}

	return t
}

// States returns the state set in declaration order.
func (t *FSMTable) States() []string {
	states := make([]string, len(t.states))
	copy(states, t.states)

	return states
}

func (t *FSMTable) hasState(s string) bool {
	_, ok := t.stateSet[s]
	return ok
}

func (t *FSMTable) next(event, state string) (string, bool) {
	if to, ok := t.transitions[transKey{event: event, state: state}]; ok {
		return to, true
	}

	to, ok := t.transitions[transKey{event: event, state: ""}]

	return to, ok
}

// An FSM is a sequential block driven by a compiled control table. Concrete
// state machine block types embed it.
type FSM struct {
	SBlockBase

	table       *FSMTable
	state       string
	initialized bool
	initial     string

	timer    *time.Timer
	expiry   time.Time
	timerGen int

	condInst   map[string]CondFunc
	enterInst  map[string]ActionFunc
	exitInst   map[string]ActionFunc
	durations  map[string]time.Duration
	outputFunc func(state string) Value

	onEnter   map[string][]*Event
	onExit    map[string][]*Event
	onNoTrans []*Event

	inEnter     bool
	chainSet    bool
	chainTarget string
}

func (f *FSM) fsmBase() *FSM {
	return f
}

type fsmBlock interface {
	fsmBase() *FSM
}

// InitFSM fills in the base fields, registers the block with the circuit and
// installs one event handler per control table event. Concrete state machine
// constructors call this exactly once, before registering any further
// handlers of their own.
func (f *FSM) InitFSM(
	c *Circuit,
	self SBlock,
	name string,
	table *FSMTable,
	opts ...Option,
) {
	f.table = table
	f.condInst = make(map[string]CondFunc)
	f.enterInst = make(map[string]ActionFunc)
	f.exitInst = make(map[string]ActionFunc)
	f.durations = make(map[string]time.Duration)
	f.onEnter = make(map[string][]*Event)
	f.onExit = make(map[string][]*Event)

	f.InitSBlock(c, self, name, opts...)

	for event := range table.events {
		event := event
		f.RegisterEventHandler(EType(event), func(data Data) (Value, error) {
			return f.transition(event, data)
		})
	}
}

// State returns the current state name, or "" before initialization.
func (f *FSM) State() string {
	return f.state
}

// WithInitialState overrides the default initial state for this instance.
// Persisted state still takes precedence.
func WithInitialState(state string) Option {
	return func(blk Block) {
		mustFSM(blk, "WithInitialState").initial = state
	}
}

// WithStateDuration overrides the default duration of a timed state for
// this instance.
func WithStateDuration(state string, d time.Duration) Option {
	return func(blk Block) {
		mustFSM(blk, "WithStateDuration").durations[state] = d
	}
}

// WithCond adds an instance-level transition guard. When the block type
// declares a guard for the same event, both must approve.
func WithCond(event EType, cond CondFunc) Option {
	return func(blk Block) {
		mustFSM(blk, "WithCond").condInst[string(event)] = cond
	}
}

// WithEnterFunc adds an instance-level enter callback. It runs in addition
// to the type-level one.
func WithEnterFunc(state string, fn ActionFunc) Option {
	return func(blk Block) {
		mustFSM(blk, "WithEnterFunc").enterInst[state] = fn
	}
}

// WithExitFunc adds an instance-level exit callback. It runs in addition to
// the type-level one.
func WithExitFunc(state string, fn ActionFunc) Option {
	return func(blk Block) {
		mustFSM(blk, "WithExitFunc").exitInst[state] = fn
	}
}

// WithOutputFunc overrides the output computation. The default output is the
// current state name.
func WithOutputFunc(fn func(state string) Value) Option {
	return func(blk Block) {
		mustFSM(blk, "WithOutputFunc").outputFunc = fn
	}
}

// OnEnterState attaches events fired after the given state is entered.
func OnEnterState(state string, events ...*Event) Option {
	return func(blk Block) {
		f := mustFSM(blk, "OnEnterState")
		f.onEnter[state] = append(f.onEnter[state], events...)
	}
}

// OnExitState attaches events fired when the given state is exited.
func OnExitState(state string, events ...*Event) Option {
	return func(blk Block) {
		f := mustFSM(blk, "OnExitState")
		f.onExit[state] = append(f.onExit[state], events...)
	}
}

// OnNoTransition attaches events fired when an event arrives that has no
// transition from the current state.
func OnNoTransition(events ...*Event) Option {
	return func(blk Block) {
		f := mustFSM(blk, "OnNoTransition")
		f.onNoTrans = append(f.onNoTrans, events...)
	}
}

func mustFSM(blk Block, option string) *FSM {
	fb, ok := blk.(fsmBlock)
	if !ok {
		log.Panicf("%s: option %s applies to state machine blocks only",
			blockString(blk), option)
	}

	return fb.fsmBase()
}

// transition processes one table event: transition lookup with the exact
// row beating the wildcard row, guard evaluation, then the exit/enter cycle.
// It returns true when a transition was taken.
func (f *FSM) transition(event string, data Data) (Value, error) {
	if !f.initialized {
		if err := f.InitRegular(); err != nil {
			return false, err
		}
	}

	next, ok := f.table.next(event, f.state)
	if !ok {
		f.circuit.debugf(f.self, "no transition for %q in state %q",
			event, f.state)

		if err := f.fireEvents(f.onNoTrans, data, Data{
			"event": event, "state": f.state,
		}); err != nil {
			return false, err
		}

		return false, nil
	}

	if cond, ok := f.table.cond[event]; ok && !cond(data) {
		return false, nil
	}

	if cond, ok := f.condInst[event]; ok && !cond(data) {
		return false, nil
	}

	return true, f.moveTo(next, data)
}

// gotoState handles a direct Goto event: it jumps to the target state
// bypassing the transition table and the guards. Arriving during an enter
// callback it schedules a chained transition instead.
func (f *FSM) gotoState(state string, data Data) (Value, error) {
	if f.inEnter {
		return true, f.chainNext(state)
	}

	if !f.table.hasState(state) {
		return false, fmt.Errorf("goto unknown state %q", state)
	}

	if !f.initialized {
		return true, f.enterInitial(state, data, true)
	}

	return true, f.moveTo(state, data)
}

// chainNext schedules the one chained transition an enter callback may
// request. A second request before the first resolves is fatal.
func (f *FSM) chainNext(state string) error {
	if !f.inEnter {
		err := blockErr(f.self,
			fmt.Errorf("chained transition requested outside an enter callback"))
		f.circuit.Abort(err)

		return err
	}

	if f.chainSet {
		err := blockErr(f.self, fmt.Errorf("%w: already heading to %q",
			ErrDoubleChain, f.chainTarget))
		f.circuit.Abort(err)

		return err
	}

	if !f.table.hasState(state) {
		return blockErr(f.self, fmt.Errorf("chain to unknown state %q", state))
	}

	f.chainSet = true
	f.chainTarget = state

	return nil
}

// moveTo runs the exit/enter cycle into the next state. Enter callbacks run
// under a relaxed reentrancy guard and may request exactly one chained
// transition; a chained-away state exists for zero logical time: its exit
// callback runs, but it emits no output and no notification events.
func (f *FSM) moveTo(next string, data Data) error {
	if !f.table.hasState(next) {
		return blockErr(f.self, fmt.Errorf("transition to unknown state %q", next))
	}

	f.cancelTimer()

	if err := f.runExit(f.state, data); err != nil {
		return err
	}

	if err := f.fireEvents(f.onExit[f.state], data, Data{
		"state": f.state, "trigger": "exit",
	}); err != nil {
		return err
	}

	return f.enterLoop(next, data, true)
}

// enterLoop enters states until no further chained transition is requested.
func (f *FSM) enterLoop(next string, data Data, fireEvents bool) error {
	chainLimit := len(f.table.states) + 1

	for chained := 0; ; chained++ {
		if chained > chainLimit {
			err := blockErr(f.self, fmt.Errorf("%w after %d states",
				ErrChainLimit, chained))
			f.circuit.Abort(err)

			return err
		}

		f.state = next
		f.initialized = true

		if err := f.runEnter(next, data); err != nil {
			return err
		}

		if !f.chainSet {
			break
		}

		// The state just entered is chained away without ever being
		// observable. Its exit callback still runs.
		next = f.chainTarget
		f.chainSet = false
		f.chainTarget = ""

		if err := f.runExit(f.state, data); err != nil {
			return err
		}
	}

	f.armTimer(f.state, data)

	if err := f.recomputeOutput(); err != nil {
		return err
	}

	if !fireEvents {
		return nil
	}

	return f.fireEvents(f.onEnter[f.state], data, Data{
		"state": f.state, "trigger": "enter",
	})
}

// enterInitial performs the unconditional first entry into the default,
// configured or persisted state. No guards, no exit callbacks, and no
// notification events other than the generic output change.
func (f *FSM) enterInitial(state string, data Data, runEnter bool) error {
	if !runEnter {
		f.state = state
		f.initialized = true
		f.armTimer(state, data)

		return f.recomputeOutput()
	}

	return f.enterLoop(state, data, false)
}

// InitRegular enters the initial state: the instance-configured one, or the
// first declared state.
func (f *FSM) InitRegular() error {
	if f.initialized {
		return nil
	}

	state := f.initial
	if state == "" {
		state = f.table.states[0]
	}

	if !f.table.hasState(state) {
		return blockErr(f.self, fmt.Errorf("unknown initial state %q", state))
	}

	return f.enterInitial(state, Data{}, true)
}

// InitFromValue treats the fallback value as a state name.
func (f *FSM) InitFromValue(v Value) error {
	state, ok := v.(string)
	if !ok {
		return fmt.Errorf("fsm initdef must be a state name, got %T", v)
	}

	if !f.table.hasState(state) {
		return fmt.Errorf("fsm initdef: unknown state %q", state)
	}

	return f.enterInitial(state, Data{}, true)
}

func (f *FSM) runEnter(state string, data Data) error {
	classFn := f.table.enter[state]
	instFn := f.enterInst[state]
	if classFn == nil && instFn == nil {
		return nil
	}

	f.inEnter = true
	f.relaxGuard = true

	defer func() {
		f.inEnter = false
		f.relaxGuard = false
	}()

	if classFn != nil {
		classFn(data)
	}

	if err := f.circuit.Err(); err != nil {
		return err
	}

	if instFn != nil {
		instFn(data)
	}

	return f.circuit.Err()
}

func (f *FSM) runExit(state string, data Data) error {
	if fn, ok := f.table.exit[state]; ok {
		fn(data)
	}

	if fn, ok := f.exitInst[state]; ok {
		fn(data)
	}

	return f.circuit.Err()
}

func (f *FSM) fireEvents(events []*Event, data Data, extra Data) error {
	if len(events) == 0 {
		return nil
	}

	payload := data.clone()
	for k, v := range extra {
		payload[k] = v
	}

	for _, ev := range events {
		if err := ev.Send(f.self, payload); err != nil {
			return err
		}
	}

	return nil
}

func (f *FSM) recomputeOutput() error {
	var out Value = f.state
	if f.outputFunc != nil {
		out = f.outputFunc(f.state)
	}

	return f.SetOutput(out)
}

// armTimer starts the timer of a timed state. Duration precedence: the
// event's "duration" payload field, then the instance override, then the
// table default. A negative duration disables the timer.
func (f *FSM) armTimer(state string, data Data) {
	td, ok := f.table.timers[state]
	if !ok {
		return
	}

	d := td.Duration
	if override, ok := f.durations[state]; ok {
		d = override
	}

	if v, ok := data["duration"]; ok {
		override, err := AsDuration(v)
		if err != nil {
			f.circuit.logger().Warnf("%s: bad duration override %v: %v",
				blockString(f.self), v, err)
		} else {
			d = override
		}
	}

	if d < 0 {
		return
	}

	f.startTimer(state, d, td.Expired)
}

func (f *FSM) startTimer(state string, d time.Duration, expired EventType) {
	f.timerGen++
	gen := f.timerGen
	f.expiry = time.Now().Add(d)

	f.timer = time.AfterFunc(d, func() {
		f.circuit.post(func() {
			f.timerExpired(gen, state, expired)
		})
	})
}

// timerExpired runs on the simulation goroutine. A stale expiry, i.e. one
// belonging to a timer that was cancelled or re-armed, is dropped.
func (f *FSM) timerExpired(gen int, state string, expired EventType) {
	if gen != f.timerGen || f.state != state {
		return
	}

	f.timer = nil
	f.expiry = time.Time{}

	err := f.circuit.deliver(f.self, expired, Data{
		"source":  f.Name(),
		"trigger": "timer",
	})
	if err != nil {
		f.circuit.Abort(err)
	}
}

func (f *FSM) cancelTimer() {
	f.timerGen++

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	f.expiry = time.Time{}
}

type fsmPersistedState struct {
	State  string     `json:"state"`
	Expiry *time.Time `json:"expiry"`
}

// SaveState captures the current state and, for a timed state, the absolute
// expiry time of the running timer.
func (f *FSM) SaveState() (string, error) {
	ps := fsmPersistedState{State: f.state}
	if f.timer != nil && !f.expiry.IsZero() {
		expiry := f.expiry
		ps.Expiry = &expiry
	}

	encoded, err := json.Marshal(ps)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// RestoreState resumes a persisted state: a still-valid timer is re-armed
// for the remaining duration and the output is recomputed, but no enter
// callbacks and no notification events run. A persisted timer that already
// expired is discarded with a warning and the block is left uninitialized.
func (f *FSM) RestoreState(encoded string) error {
	var ps fsmPersistedState
	if err := json.Unmarshal([]byte(encoded), &ps); err != nil {
		return err
	}

	if !f.table.hasState(ps.State) {
		return fmt.Errorf("persisted state %q is not a state", ps.State)
	}

	if ps.Expiry != nil {
		remaining := time.Until(*ps.Expiry)
		if remaining <= 0 {
			f.circuit.logger().Warnf(
				"%s: persisted timer for state %q already expired, discarding",
				blockString(f.self), ps.State)

			return nil
		}

		td, ok := f.table.timers[ps.State]
		if !ok {
			return fmt.Errorf("persisted expiry for untimed state %q", ps.State)
		}

		f.state = ps.State
		f.initialized = true
		f.startTimer(ps.State, remaining, td.Expired)

		return f.recomputeOutput()
	}

	return f.enterInitial(ps.State, Data{}, false)
}

// AsDuration converts a payload value to a duration: a time.Duration, a
// number of seconds, or a string accepted by time.ParseDuration.
func AsDuration(v Value) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		return time.ParseDuration(x)
	default:
		return 0, fmt.Errorf("cannot interpret %T as a duration", v)
	}
}
