package activity

import (
	"sync"
	"time"
)

// Kind is one of the interaction events that count as activity.
type Kind string

const (
	PointerDown Kind = "pointerdown"
	PointerMove Kind = "pointermove"
	KeyPress    Kind = "keypress"
	Scroll      Kind = "scroll"
	TouchStart  Kind = "touchstart"
	Click       Kind = "click"
)

// Kinds is the fixed set the observer listens to.
var Kinds = []Kind{PointerDown, PointerMove, KeyPress, Scroll, TouchStart, Click}

// aliases maps legacy DOM event names onto the fixed set.
var aliases = map[string]Kind{
	"mousedown": PointerDown,
	"mousemove": PointerMove,
	"keydown":   KeyPress,
}

// ParseKind accepts a kind name or one of its aliases.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	k, ok := aliases[name]
	return k, ok
}

// Signal is one observed interaction.
type Signal struct {
	Kind Kind
	At   time.Time
}

// Bus is the event target of one browsing context. Listeners attach per
// kind and detach through the returned handle.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Kind]map[uint64]func(Signal)
	next      uint64
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[Kind]map[uint64]func(Signal))}
}

// On attaches fn for kind. The returned detach func is idempotent.
func (b *Bus) On(kind Kind, fn func(Signal)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.listeners[kind] == nil {
		b.listeners[kind] = make(map[uint64]func(Signal))
	}
	b.listeners[kind][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners[kind], id)
			b.mu.Unlock()
		})
	}
}

// Dispatch delivers sig to every listener of its kind and returns how many
// were called.
func (b *Bus) Dispatch(sig Signal) int {
	b.mu.RLock()
	fns := make([]func(Signal), 0, len(b.listeners[sig.Kind]))
	for _, fn := range b.listeners[sig.Kind] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
	return len(fns)
}

// Listeners counts attached listeners across all kinds.
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, m := range b.listeners {
		n += len(m)
	}
	return n
}
