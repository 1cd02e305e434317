// Package engine is the map engine behind the viewer: a Web Mercator view with
// animations and zoom clamping, XYZ tile layers, observable change events,
// pointer and gesture handling, a frame renderer that places visible tiles, and
// a render loop bound to a Target.
//
// The engine owns rendering, tiling and projection math. Its callers only
// construct it, subscribe to events, and issue view/layer commands.
package engine

import (
	"sync"

	"github.com/paulmach/orb"
)

// EventType names an engine event.
type EventType string

const (
	EventPointerMove      EventType = "pointermove"
	EventChangeResolution EventType = "change:resolution"
	EventChangeRotation   EventType = "change:rotation"
	EventChangeCenter     EventType = "change:center"
	EventChangeVisible    EventType = "change:visible"
	EventChangeSize       EventType = "change:size"
)

// Event is delivered to listeners. Coordinate and Pixel are only set for
// pointer events; Coordinate is in projected (EPSG:3857) units.
type Event struct {
	Type       EventType
	Coordinate orb.Point
	Pixel      Pixel
}

// Listener receives events.
type Listener func(Event)

// ListenerKey identifies a registration; pass it to Unlisten.
type ListenerKey struct {
	target *observable
	typ    EventType
	id     uint64
}

// observable is embedded by every object that emits events.
type observable struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[EventType]map[uint64]Listener
}

// On registers fn for events of type t.
func (o *observable) On(t EventType, fn Listener) ListenerKey {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.listeners == nil {
		o.listeners = make(map[EventType]map[uint64]Listener)
	}
	if o.listeners[t] == nil {
		o.listeners[t] = make(map[uint64]Listener)
	}
	o.nextID++
	o.listeners[t][o.nextID] = fn
	return ListenerKey{target: o, typ: t, id: o.nextID}
}

// ListenerCount returns the number of listeners registered for t.
func (o *observable) ListenerCount(t EventType) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners[t])
}

func (o *observable) unlisten(key ListenerKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.listeners[key.typ], key.id)
}

// dispatch calls the listeners registered for e.Type. Listeners run without
// the registry lock held, so they may register or unregister.
func (o *observable) dispatch(e Event) {
	o.mu.Lock()
	fns := make([]Listener, 0, len(o.listeners[e.Type]))
	for _, fn := range o.listeners[e.Type] {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Unlisten removes the registrations behind keys. Unknown or already removed
// keys are ignored.
func Unlisten(keys ...ListenerKey) {
	for _, k := range keys {
		if k.target != nil {
			k.target.unlisten(k)
		}
	}
}
