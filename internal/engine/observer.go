package engine

import "sync"

// observer is the subscription a session hands to one pipeline. It holds
// no reference to the session, only a delivery function and the pipeline
// generation it belongs to. detach is atomic with respect to Notify: once
// it returns, no further events are delivered.
type observer struct {
	mu       sync.Mutex
	gen      uint64
	deliver  func(gen uint64, ev Event)
	detached bool
}

func newObserver(gen uint64, deliver func(uint64, Event)) *observer {
	return &observer{gen: gen, deliver: deliver}
}

// Notify implements Observer.
func (o *observer) Notify(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detached {
		return
	}
	o.deliver(o.gen, ev)
}

func (o *observer) detach() {
	o.mu.Lock()
	o.detached = true
	o.mu.Unlock()
}
