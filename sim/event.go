package sim

import (
	"fmt"
	"log"
)

// Data is the open key/value payload travelling with an event. Handlers must
// ignore keys they do not understand.
type Data map[string]Value

func (d Data) clone() Data {
	c := make(Data, len(d)+1)
	for k, v := range d {
		c[k] = v
	}

	return c
}

// An EventType identifies what an event means to the receiving block. It is
// either a plain name (EType), a conditional pair resolved on the boolean
// "value" payload field (UpDown), or a direct state jump for state machines
// (Goto).
type EventType interface {
	fmt.Stringer
	isEventType()
}

// EType is a plain event type name.
type EType string

func (EType) isEventType() {}

func (t EType) String() string {
	return string(t)
}

// UpDown resolves to one of two underlying plain event types depending on
// the boolean "value" field of the payload (absent counts as false). A zero
// branch means "no event" for that polarity.
type UpDown struct {
	IfTrue  EType
	IfFalse EType
}

func (UpDown) isEventType() {}

func (t UpDown) String() string {
	return fmt.Sprintf("UpDown(%s/%s)", t.IfTrue, t.IfFalse)
}

// Goto is a direct jump to a state machine state, bypassing the transition
// table.
type Goto struct {
	State string
}

func (Goto) isEventType() {}

func (t Goto) String() string {
	return "Goto(" + t.State + ")"
}

// An EventFilter transforms or rejects an event payload. Returning nil
// aborts the delivery.
type EventFilter func(Data) Data

// Permit builds a filter that drops the event unless pred approves the
// payload.
func Permit(pred func(Data) bool) EventFilter {
	return func(d Data) Data {
		if !pred(d) {
			return nil
		}

		return d
	}
}

// Edit builds a filter that rewrites the payload in place.
func Edit(edit func(Data)) EventFilter {
	return func(d Data) Data {
		edit(d)
		return d
	}
}

// An Event describes a deliverable notification: a destination block (by
// reference, or by name resolved at circuit finalization), an event type,
// and an ordered filter pipeline.
type Event struct {
	dest     EventReceiver
	destName string
	etype    EventType
	filters  []EventFilter
}

// NewEvent creates an event. dest is either an EventReceiver or a block
// name (string) to be resolved when the owning circuit finalizes.
func NewEvent(dest any, etype EventType, filters ...EventFilter) *Event {
	ev := &Event{etype: etype, filters: filters}

	switch d := dest.(type) {
	case EventReceiver:
		ev.dest = d
	case string:
		ev.destName = d
	default:
		log.Panicf("event destination must be a sequential block or a name, got %T", dest)
	}

	return ev
}

// Dest returns the resolved destination block, or nil before resolution.
func (ev *Event) Dest() EventReceiver {
	return ev.dest
}

// Etype returns the event type.
func (ev *Event) Etype() EventType {
	return ev.etype
}

func (ev *Event) String() string {
	name := ev.destName
	if ev.dest != nil {
		name = ev.dest.Name()
	}

	return fmt.Sprintf("Event(%s -> %s)", ev.etype, name)
}

// resolve binds a name-addressed destination to the actual block. Called
// during circuit finalization.
func (ev *Event) resolve(c *Circuit) error {
	if ev.dest != nil {
		return nil
	}

	blk, err := c.findOrMaterialize(ev.destName)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev, err)
	}

	recv, ok := blk.(EventReceiver)
	if !ok {
		return fmt.Errorf(
			"event %s: block %q is combinational and cannot receive events",
			ev, blk.Name())
	}

	ev.dest = recv

	return nil
}

// Send stamps the source block's name into the payload, applies the filter
// pipeline in order, and delivers the event. A filter returning nil aborts
// the delivery silently (logged at debug level only). Errors raised by the
// destination's handler are wrapped with the destination's identity.
func (ev *Event) Send(source Block, data Data) error {
	if ev.dest == nil {
		return fmt.Errorf("event %s: destination not resolved", ev)
	}

	data = data.clone()
	data["source"] = source.Name()

	for _, f := range ev.filters {
		data = f(data)
		if data == nil {
			source.Circuit().debugf(source, "event %s rejected by filter", ev)
			return nil
		}
	}

	return ev.dest.Circuit().deliver(ev.dest, ev.etype, data)
}
