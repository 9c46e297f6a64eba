package flow

import (
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

// Store is the process-lifetime registry of flows (§3 FlowStore, §4.8).
// flows is a concurrent map guarded by mu; ordered is append-only and
// mirrors insertion order. A single goroutine (drain) applies posted events
// so every observer of a given flow sees mutations in the order they were
// posted (§5 Ordering).
type Store struct {
	mu      sync.RWMutex
	flows   map[int64]*Flow
	ordered []int64
	nextID  atomic.Int64

	events chan envelope

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

type envelope struct {
	id int64
	ev Event
}

// NewStore creates an empty Store and starts its event-drain goroutine.
func NewStore() *Store {
	s := &Store{
		flows:  make(map[int64]*Flow),
		events: make(chan envelope, 1024),
		subs:   make(map[chan struct{}]struct{}),
	}
	go s.drain()
	return s
}

// NewFlow allocates a new flow id (monotonic), inserts it, appends it to the
// ordered sequence, and notifies subscribers (§4.8 new_flow).
func (s *Store) NewFlow(clientAddr string, req *InterceptedRequest) int64 {
	id := s.nextID.Add(1)
	f := newFlow(id)
	f.ClientAddr = clientAddr
	f.Request = req

	s.mu.Lock()
	s.flows[id] = f
	s.ordered = append(s.ordered, id)
	s.mu.Unlock()

	s.broadcast()
	return id
}

// Get returns the flow for id, or false if it does not exist.
func (s *Store) Get(id int64) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	return f, ok
}

// OrderedIDs returns ids in insertion order (§8 invariant 5: strictly
// increasing, every id present in flows).
func (s *Store) OrderedIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// PostEvent submits ev for flow id to the drain goroutine without blocking
// the caller (§4.8 post_event). Posting against an unknown id is logged,
// never treated as an error the caller must handle (§7: "the flow store
// never fails externally").
func (s *Store) PostEvent(id int64, ev Event) {
	env := envelope{id: id, ev: ev}
	select {
	case s.events <- env:
	default:
		// Buffer momentarily full: don't block the caller's hot path: hand
		// off to a detached goroutine so the channel still behaves as the
		// spec's unbounded bus, bounded only by producer rate (§5).
		go func() { s.events <- env }()
	}
}

// Subscribe returns a channel that receives a coalesced signal on any flow
// mutation; multiple mutations between receives collapse into one signal
// (§4.8 subscribe, §6 observation bus).
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe.
func (s *Store) Unsubscribe(ch <-chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for c := range s.subs {
		if c == ch {
			delete(s.subs, c)
			return
		}
	}
}

func (s *Store) broadcast() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) drain() {
	for env := range s.events {
		s.mu.RLock()
		f, ok := s.flows[env.id]
		s.mu.RUnlock()
		if !ok {
			slog.Warn("flow.Store: post_event to unknown flow", "id", env.id)
			continue
		}
		f.lock()
		apply(f, env.ev)
		f.unlock()
		s.broadcast()
	}
}
