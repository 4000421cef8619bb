package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// Dispatcher fans provider events out to listeners. Emit calls are serialized and
// each event is delivered to every listener before the next event starts, so all
// listeners observe the same order. A listener must not call Emit.
type Dispatcher struct {
	emitMu sync.Mutex

	mu        sync.RWMutex
	order     []uuid.UUID
	listeners map[uuid.UUID]Listener
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[uuid.UUID]Listener)}
}

// Subscribe registers l.
func (d *Dispatcher) Subscribe(l Listener) Subscription {
	id := uuid.New()

	d.mu.Lock()
	d.listeners[id] = l
	d.order = append(d.order, id)
	d.mu.Unlock()

	return &subscription{id: id, d: d}
}

// Emit delivers event to every current listener.
func (d *Dispatcher) Emit(ctx context.Context, event sessions.AuthEvent) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	for _, l := range d.snapshot() {
		l(ctx, sessions.AuthEvent{Kind: event.Kind, Session: event.Session.Clone()})
	}
}

// SubscribeWithInitial registers l and, when current reports a valid session,
// delivers INITIAL_SESSION for it. Registration, the current call and the
// delivery all happen between emits, so l never sees the initial session after
// an event that replaced it.
func (d *Dispatcher) SubscribeWithInitial(ctx context.Context, l Listener, current func() *sessions.Session) Subscription {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	sub := d.Subscribe(l)
	if session := current(); session.Valid() {
		l(ctx, sessions.InitialSession(session.Clone()))
	}
	return sub
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

func (d *Dispatcher) snapshot() []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Listener, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.listeners[id])
	}
	return out
}

func (d *Dispatcher) remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listeners[id]; !ok {
		return
	}
	delete(d.listeners, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

type subscription struct {
	id   uuid.UUID
	d    *Dispatcher
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.d.remove(s.id) })
}
