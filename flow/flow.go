package flow

import (
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Flow is one client↔origin exchange. It is the single mutable record for
// that exchange; every field after construction is touched only through
// Store's event-drain goroutine (§3 Ownership, §5 Locking) — callers outside
// that goroutine must go through Store.PostEvent rather than mutating a Flow
// directly, except for the addon-style hooks in package proxy which run
// synchronously within the pipeline that owns the flow for that phase.
type Flow struct {
	ID int64
	// ConnID identifies the underlying client connection this flow was
	// carried on, independent of the flow's own monotonic ID; useful for
	// correlating several keep-alive flows back to one TCP/TLS session in
	// logs and the observation bus.
	ConnID         string
	ClientAddr     string
	ServerAddr     string
	Request        *InterceptedRequest
	Response       *InterceptedResponse
	Timing         Timing
	Certs          Certs
	Messages       []WSMessage
	Err            string

	mu sync.RWMutex
}

func newFlow(id int64) *Flow {
	return &Flow{ID: id, ConnID: uuid.NewV4().String()}
}

// View runs fn with a read lock held, for callers (UI, tests) that need a
// consistent snapshot across several fields.
func (f *Flow) View(fn func(*Flow)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn(f)
}

func (f *Flow) lock()   { f.mu.Lock() }
func (f *Flow) unlock() { f.mu.Unlock() }
