package assumption

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/errors"
)

// Event describes an invalidation.
type Event struct {
	Assumption *Assumption
	Reason     string
}

// Listener is notified when an assumption is invalidated.
type Listener interface {
	OnInvalidate(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnInvalidate(e Event) { f(e) }

type subscription struct {
	l  Listener
	id uint64
}

// Assumption is a validity flag that transitions from valid to invalid once.
type Assumption struct {
	name      string
	reason    string
	listeners []subscription
	nextID    uint64
	mu        sync.Mutex
	valid     atomic.Bool
	frozen    bool
	done      chan struct{} // closed once the broadcast finished
}

// New creates a valid assumption.
func New(name string) *Assumption {
	a := &Assumption{name: name, done: make(chan struct{})}
	a.valid.Store(true)
	return a
}

// AlwaysValid is an assumption that ignores invalidation.
var AlwaysValid = func() *Assumption {
	a := New("always valid")
	a.frozen = true
	return a
}()

// NeverValid is an assumption that is invalid from the start.
var NeverValid = func() *Assumption {
	a := New("never valid")
	a.valid.Store(false)
	a.reason = "created invalid"
	close(a.done)
	return a
}()

// Name returns the assumption's name.
func (a *Assumption) Name() string {
	return a.name
}

// IsValid reports whether the assumption still holds.
func (a *Assumption) IsValid() bool {
	return a.valid.Load()
}

// Reason returns the reason passed to the first Invalidate call.
func (a *Assumption) Reason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Check returns an InvalidAssumption error once the assumption is invalid.
func (a *Assumption) Check() error {
	if a.valid.Load() {
		return nil
	}
	return errors.InvalidAssumption(errors.PhaseAssumption, a.name)
}

// Invalidate marks the assumption invalid and synchronously notifies every
// listener registered before the call. Later calls change nothing but block
// until that broadcast has finished, so a listener must not invalidate the
// assumption it is notified for.
func (a *Assumption) Invalidate(reason string) {
	if a.frozen {
		return
	}

	a.mu.Lock()
	if !a.valid.Load() {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.valid.Store(false)
	a.reason = reason
	subs := a.listeners
	a.listeners = nil
	a.mu.Unlock()

	Logger().Debug("assumption invalidated",
		zap.String("name", a.name),
		zap.String("reason", reason),
		zap.Int("dependents", len(subs)))

	e := Event{Assumption: a, Reason: reason}
	for _, s := range subs {
		notify(s.l, e)
	}
	close(a.done)
}

// Subscribe registers a dependent. If the assumption is already invalid the
// listener runs before Subscribe returns. The returned function removes the
// listener.
func (a *Assumption) Subscribe(l Listener) (cancel func()) {
	a.mu.Lock()
	if !a.valid.Load() {
		e := Event{Assumption: a, Reason: a.reason}
		a.mu.Unlock()
		notify(l, e)
		return func() {}
	}
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, subscription{l: l, id: id})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, s := range a.listeners {
			if s.id == id {
				a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dependents returns the number of registered listeners.
func (a *Assumption) Dependents() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *Assumption) String() string {
	if a.IsValid() {
		return a.name + " (valid)"
	}
	return a.name + " (invalid)"
}

func notify(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("assumption listener panicked",
				zap.String("name", e.Assumption.name),
				zap.Any("panic", r))
		}
	}()
	l.OnInvalidate(e)
}

// AllValid reports whether every assumption holds. Nil entries are ignored.
func AllValid(as ...*Assumption) bool {
	for _, a := range as {
		if a != nil && !a.valid.Load() {
			return false
		}
	}
	return true
}
