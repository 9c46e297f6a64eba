// Package web implements the binary-framed observation websocket server
// (§6 observation bus): every flow the proxy creates, and every mutation
// posted against it, is broadcast to connected UI clients as it happens.
//
// Grounded on denisvmedia/go-mitmproxy's web package, whose
// implementation file was not present in the retrieved pack (only its
// tests were) — reconstructed here against flow.Store instead of the
// teacher's Addon-driven ConnContext/Flow types, and against web_test.go's
// expectation of a constructor returning a non-nil value for a given
// listen address.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/roxyproxy/roxy/flow"
)

// Server serves the observation websocket endpoint and relays flow.Store
// activity to every connected client.
type Server struct {
	addr  string
	store *flow.Store

	upgrader websocket.Upgrader

	server *http.Server
}

// NewWebAddon builds a Server listening on addr, observing store. The name
// is kept from denisvmedia/go-mitmproxy (an "addon" in its addon-registry sense); this
// module's Server is a store observer, not a registered proxy.Addon.
func NewWebAddon(addr string, store *flow.Store) *Server {
	s := &Server{
		addr:  addr,
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving the observation endpoint until the server
// is shut down.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("web: upgrade failed", "error", err)
		return
	}
	conn := newConn(wsConn)
	defer wsConn.Close()

	done := make(chan struct{})
	go func() {
		conn.readloop()
		close(done)
	}()

	sub := s.store.Subscribe()
	defer s.store.Unsubscribe(sub)

	// Replay every flow that already existed before this client connected,
	// then keep streaming as the store's subscribe channel coalesces
	// further mutations (§6: "late subscribers see the full backlog").
	s.flushAll(conn)

	for {
		select {
		case <-done:
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			s.flushAll(conn)
		}
	}
}

// flushAll sends a snapshot for every flow currently in the store. Flows
// already seen by conn become "update" frames; it is cheap relative to the
// human-scale rate of flow mutation this bus serves.
func (s *Server) flushAll(conn *concurrentConn) {
	for _, id := range s.store.OrderedIDs() {
		f, ok := s.store.Get(id)
		if !ok {
			continue
		}
		conn.notify(f)
		var messages []flow.WSMessage
		f.View(func(f *flow.Flow) { messages = f.Messages })
		offset := conn.wsMessageOffset(id, len(messages))
		for _, wm := range messages[offset:] {
			conn.notifyWSMessage(id, wm)
		}
	}
}
