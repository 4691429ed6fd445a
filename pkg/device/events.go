package device

import "sync"

// StateChange is one published transition.
type StateChange struct {
	Old State
	New State
}

// StateEvents fans state transitions out to subscribers. It implements
// StatePublisher. Subscribers are called synchronously on the run loop and
// must not block.
type StateEvents struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(StateChange)
}

// Subscribe registers fn and returns a function that removes it.
func (e *StateEvents) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(StateChange))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *StateEvents) PublishStateChange(old, new State) {
	e.mu.RLock()
	subs := make([]func(StateChange), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	ev := StateChange{Old: old, New: new}
	for _, fn := range subs {
		fn(ev)
	}
}
