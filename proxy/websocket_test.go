package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/websocket"
)

// TestHandleWebSocketBridgesPlainOrigin exercises the plain-WS case of §4.5
// end to end: a real gorilla/websocket client dials the proxy's handler,
// which bridges to a real plain-WS origin with useTLS=false.
func TestHandleWebSocketBridgesPlainOrigin(t *testing.T) {
	c := qt.New(t)

	upgrader := websocket.Upgrader{}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, append([]byte("echo:"), msg...))
	}))
	defer origin.Close()

	p := newTestProxy(t)
	originAuthority := strings.TrimPrefix(origin.URL, "http://")

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.handleWebSocket(w, r, originAuthority, false)
	}))
	defer front.Close()

	frontURL := "ws://" + strings.TrimPrefix(front.URL, "http://")
	clientConn, _, err := websocket.DefaultDialer.Dial(frontURL, nil)
	c.Assert(err, qt.IsNil)
	defer clientConn.Close()

	c.Assert(clientConn.WriteMessage(websocket.TextMessage, []byte("hi")), qt.IsNil)
	c.Assert(clientConn.SetReadDeadline(time.Now().Add(5*time.Second)), qt.IsNil)
	_, msg, err := clientConn.ReadMessage()
	c.Assert(err, qt.IsNil)
	c.Assert(string(msg), qt.Equals, "echo:hi")
}
