package proxy

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roxyproxy/roxy/flow"
)

// isWebSocketUpgrade reports whether r is asking to switch to the
// WebSocket protocol (§4.5).
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleWebSocket bridges a client WebSocket connection to the origin,
// dialing the origin ourselves (rather than transparently relaying raw
// bytes, as denisvmedia/go-mitmproxy's webSocket.wss did) so every frame is captured
// into flow.WSMessage and posted to the store (§4.5). useTLS selects between
// the plain-WS and WSS cases (§4.5: "For plain WS: open a TCP connection to
// target... For WSS: identical, layered over TLS") — true for any bridge
// reached through a TLS-terminated tunnel (handleH1), false for the plain
// CONNECT (handlePlainH1) and direct-proxy (handleDirect) cases.
//
// Grounded on denisvmedia/go-mitmproxy's proxy/websocket.go (Hijack the client conn,
// dial the origin, relay) generalized to a message-level bridge using
// gorilla/websocket instead of denisvmedia/go-mitmproxy's raw httputil.DumpRequest +
// io.Copy relay, since §4.5 requires per-message capture.
func (p *Proxy) handleWebSocket(w http.ResponseWriter, r *http.Request, authority string, useTLS bool) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	origin := scheme + "://" + canonicalAuthority(scheme, authority) + r.URL.RequestURI()
	dialer := &websocket.Dialer{
		HandshakeTimeout: p.Config.dialTimeout(),
	}
	if useTLS {
		dialer.TLSClientConfig = &tls.Config{ServerName: hostOf(authority)}
	}

	serverConn, _, err := dialer.Dial(origin, forwardableHeaders(r.Header))
	if err != nil {
		httpError(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer serverConn.Close()

	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logErr(err)
		return
	}
	defer clientConn.Close()

	ireq := flow.NewInterceptedRequest(r.Method, r.URL, "", r.Proto, r.Header, nil, nil, nil)
	id := p.Store.NewFlow(r.RemoteAddr, ireq)

	errc := make(chan struct{}, 2)
	go p.relayWS(id, clientConn, serverConn, flow.WSFromClient, errc)
	go p.relayWS(id, serverConn, clientConn, flow.WSFromServer, errc)
	<-errc
}

// relayWS copies frames from src to dst one message at a time, posting a
// flow.WSMessageEvent for each (§4.5).
func (p *Proxy) relayWS(id int64, src, dst *websocket.Conn, dir flow.WSDirection, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		opcode, msg, err := src.ReadMessage()
		if err != nil {
			return
		}
		p.Store.PostEvent(id, flow.WSMessageEvent{Message: flow.WSMessage{
			Direction: dir,
			Opcode:    opcode,
			Message:   msg,
			Timestamp: time.Now(),
		}})
		if err := dst.WriteMessage(opcode, msg); err != nil {
			return
		}
	}
}

func hostOf(authority string) string {
	if i := strings.LastIndex(authority, ":"); i >= 0 {
		return authority[:i]
	}
	return authority
}

// forwardableHeaders strips the hop-by-hop upgrade headers gorilla/websocket
// sets itself, keeping the rest (cookies, auth, custom headers) for the
// handshake to the origin.
func forwardableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	skip := map[string]bool{
		"Upgrade": true, "Connection": true, "Sec-Websocket-Key": true,
		"Sec-Websocket-Version": true, "Sec-Websocket-Extensions": true,
	}
	for k, vs := range h {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
