package activity

import (
	"sync"
)

// Toucher receives the normalized activity signal.
type Toucher interface {
	Touch()
}

// Observer maps every kind on a Bus onto a single Touch call.
type Observer struct {
	bus    *Bus
	target Toucher

	mu     sync.Mutex
	detach []func()
}

func NewObserver(bus *Bus, target Toucher) *Observer {
	return &Observer{bus: bus, target: target}
}

// Start attaches one listener per kind. Calling it while attached is a no-op.
func (o *Observer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detach != nil {
		return
	}

	o.detach = make([]func(), 0, len(Kinds))
	for _, kind := range Kinds {
		o.detach = append(o.detach, o.bus.On(kind, o.forward))
	}
}

// Stop detaches every listener. Safe to call repeatedly.
func (o *Observer) Stop() {
	o.mu.Lock()
	detach := o.detach
	o.detach = nil
	o.mu.Unlock()

	for _, off := range detach {
		off()
	}
}

func (o *Observer) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.detach != nil
}

func (o *Observer) forward(Signal) {
	o.target.Touch()
}
