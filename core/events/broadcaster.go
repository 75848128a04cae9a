package events

import "sync"

const defaultSubscriberBuffer = 64

// Broadcaster fans events out to a fixed set of sinks plus any number of
// channel subscribers. Slow subscribers lose events rather than blocking the
// emitting request.
type Broadcaster struct {
	mu     sync.RWMutex
	sinks  []Emitter
	subs   map[int]chan Event
	nextID int
}

// NewBroadcaster returns a broadcaster forwarding to the provided sinks.
func NewBroadcaster(sinks ...Emitter) *Broadcaster {
	filtered := make([]Emitter, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &Broadcaster{sinks: filtered, subs: make(map[int]chan Event)}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink.Emit(evt)
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a channel subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
