package web

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roxyproxy/roxy/flow"
)

// concurrentConn serializes writes to one UI observer's websocket and
// tracks which flow ids it has already sent a "new" frame for, so later
// mutations become "update" frames instead of duplicate "new" ones.
//
// Grounded on denisvmedia/go-mitmproxy's web/conn.go concurrentConn, trimmed of its
// break-point wait/edit machinery (superseded by the script runtime, see
// DESIGN.md) down to its core responsibility: one mutex-guarded
// websocket.Conn plus a seen-ids set.
type concurrentConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	seenMu   sync.Mutex
	seen     map[int64]bool
	wsSentN  map[int64]int
}

func newConn(c *websocket.Conn) *concurrentConn {
	return &concurrentConn{conn: c, seen: make(map[int64]bool), wsSentN: make(map[int64]int)}
}

// wsMessageOffset returns how many flow.WSMessage entries for id this
// connection has already forwarded, then records total as the new count.
func (c *concurrentConn) wsMessageOffset(id int64, total int) int {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	sent := c.wsSentN[id]
	c.wsSentN[id] = total
	return sent
}

// notify sends the current snapshot of f, as a "new" frame the first time
// this connection observes f.ID and an "update" frame on every subsequent
// call (§6 observation bus).
func (c *concurrentConn) notify(f *flow.Flow) {
	mType := c.classify(f.ID)

	msg, err := newFlowMessage(mType, f)
	if err != nil {
		slog.Error("web: marshal flow snapshot failed", "error", err)
		return
	}
	c.write(msg)
}

func (c *concurrentConn) classify(id int64) messageType {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if c.seen[id] {
		return messageTypeFlowUpdate
	}
	c.seen[id] = true
	return messageTypeFlowNew
}

// notifyWSMessage forwards one captured WebSocket frame (§4.5).
func (c *concurrentConn) notifyWSMessage(id int64, wm flow.WSMessage) {
	msg, err := newWSMessage(id, wm)
	if err != nil {
		slog.Error("web: marshal ws message failed", "error", err)
		return
	}
	c.write(msg)
}

func (c *concurrentConn) write(msg *message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg.toBytes()); err != nil {
		slog.Error("web: write websocket message failed", "error", err)
	}
}

// readloop drains inbound frames until the client disconnects. The
// observation bus is one-directional (server -> UI); any inbound message is
// just a liveness signal, not a command (§6: UI-side editing is not part of
// this module's scope, the script runtime owns mutation).
func (c *concurrentConn) readloop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
