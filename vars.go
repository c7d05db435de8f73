package sdkplay

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"
)

// Binding is one named slot of a VarStore.
type Binding struct {
	Name  string    `json:"name"`
	Value any       `json:"value"`
	Op    string    `json:"op,omitempty"`
	ID    string    `json:"invocationId,omitempty"`
	At    time.Time `json:"at"`
}

// VarEvent describes a change to a VarStore. Reset events carry no binding.
type VarEvent struct {
	Reset   bool     `json:"reset,omitempty"`
	Epoch   uint64   `json:"epoch"`
	Binding *Binding `json:"binding,omitempty"`
}

// VarStore maps names to the values produced by prior invocations.
// Writes are serialized; the latest write to a name wins. Every change is
// broadcast to subscribers, which always observe the latest event and may
// skip intermediate ones when they are slow.
//
// The epoch advances on Reset. Writers that captured an older epoch are
// rejected by SetAt so that a completion arriving after a reset cannot mutate
// the fresh store.
type VarStore struct {
	mu          sync.RWMutex
	bindings    map[string]Binding
	epoch       uint64
	subscribers map[int64]chan VarEvent
	nextSubID   int64
}

// NewVarStore returns an empty store at epoch 0.
func NewVarStore() *VarStore {
	return &VarStore{
		bindings:    make(map[string]Binding),
		subscribers: make(map[int64]chan VarEvent),
	}
}

// Lookup returns the value bound to name.
func (s *VarStore) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[name]
	return b.Value, ok
}

// Get returns the full binding for name.
func (s *VarStore) Get(name string) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[name]
	return b, ok
}

// Epoch returns the current epoch.
func (s *VarStore) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Set binds name to value unconditionally, overwriting any prior value.
func (s *VarStore) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(Binding{Name: name, Value: value, At: time.Now()})
}

// SetAt binds b.Name to b.Value only if the store is still at epoch.
// It reports whether the write happened.
func (s *VarStore) SetAt(epoch uint64, b Binding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	if b.At.IsZero() {
		b.At = time.Now()
	}
	s.store(b)
	return true
}

// store writes b and broadcasts it. Must be called with s.mu held.
func (s *VarStore) store(b Binding) {
	s.bindings[b.Name] = b
	s.broadcast(VarEvent{Epoch: s.epoch, Binding: &b})
}

// Delete removes a binding.
func (s *VarStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, name)
}

// Reset clears every binding and advances the epoch.
func (s *VarStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.bindings)
	s.epoch++
	s.broadcast(VarEvent{Reset: true, Epoch: s.epoch})
}

// Snapshot returns a copy of all bindings sorted by name.
func (s *VarStore) Snapshot() []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := slices.Sorted(maps.Keys(s.bindings))
	out := make([]Binding, 0, len(names))
	for _, n := range names {
		out = append(out, s.bindings[n])
	}
	return out
}

// Len returns the number of bindings.
func (s *VarStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

// Subscribe returns an iterator over store changes until ctx is canceled.
func (s *VarStore) Subscribe(ctx context.Context) iter.Seq[VarEvent] {
	return func(yield func(VarEvent) bool) {
		ch := make(chan VarEvent, 1)
		id := s.addSubscriber(ch)
		defer s.removeSubscriber(id)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if !yield(ev) {
					return
				}
			}
		}
	}
}

// Watch returns the current bindings together with an iterator over every
// later change. Nothing written between the snapshot and the first event is
// missed. The subscription ends when ctx is done or the iteration stops.
func (s *VarStore) Watch(ctx context.Context) ([]Binding, iter.Seq[VarEvent]) {
	ch := make(chan VarEvent, 1)
	s.mu.Lock()
	snap := make([]Binding, 0, len(s.bindings))
	for _, n := range slices.Sorted(maps.Keys(s.bindings)) {
		snap = append(snap, s.bindings[n])
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.removeSubscriber(id) })
	return snap, func(yield func(VarEvent) bool) {
		defer func() {
			stop()
			s.removeSubscriber(id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if !yield(ev) {
					return
				}
			}
		}
	}
}

// broadcast sends ev to every subscriber without blocking. Must be called
// with s.mu held so that subscribers observe events in write order.
func (s *VarStore) broadcast(ev VarEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Full: drop the stale event and deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (s *VarStore) addSubscriber(ch chan VarEvent) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	return id
}

func (s *VarStore) removeSubscriber(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}
