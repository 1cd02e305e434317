package service

import "sync"

// Kinds of session changes.
const (
	ChangeView       = "view"       // zoom or rotation
	ChangePointer    = "pointer"    // pointer coordinate
	ChangeLayers     = "layers"     // layer visibility or layer menu
	ChangeFullscreen = "fullscreen" // fullscreen control state
	ChangeFrame      = "frame"      // a new map frame was rendered
	ChangeScript     = "script"     // a script is queued for the page
)

// Event reports that part of a session's display state changed.
type Event struct {
	Session string
	Kind    string
}

// Subscription accumulates the kinds published since the last Take. C has a
// single slot: a receive means at least one kind is pending, however many
// events arrived in between.
type Subscription struct {
	C <-chan struct{}

	notify  chan struct{}
	mu      sync.Mutex
	pending map[string]bool
}

func (s *Subscription) mark(kind string) {
	s.mu.Lock()
	s.pending[kind] = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Take returns the pending kinds and clears them.
func (s *Subscription) Take() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := s.pending
	s.pending = map[string]bool{}
	return kinds
}

// EventBus is a simple fan-out pub/sub for session change events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Publish records the event's kind on every subscription (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		sub.mark(e.Kind)
	}
}

// Subscribe returns a new subscription.
func (b *EventBus) Subscribe() *Subscription {
	notify := make(chan struct{}, 1)
	sub := &Subscription{C: notify, notify: notify, pending: map[string]bool{}}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// subscriptions are ignored.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		close(sub.notify)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
