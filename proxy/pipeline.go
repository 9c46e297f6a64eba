package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/http2"

	"github.com/roxyproxy/roxy/encoding"
	"github.com/roxyproxy/roxy/flow"
)

// handleDirect serves a plain (non-CONNECT) HTTP proxy request: the
// intercept pipeline runs synchronously inline, no tunnel involved. This is
// the "http://" proxy case (§4.1).
func (p *Proxy) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Scheme == "" || r.URL.Host == "" {
		httpError(w, "this is a proxy server, direct requests are not supported", http.StatusBadRequest)
		return
	}

	if isWebSocketUpgrade(r) {
		p.handleWebSocket(w, r, r.URL.Host, false)
		return
	}

	resp, err := p.runPipeline(r.Context(), r, r.RemoteAddr, "")
	if err != nil {
		httpError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeResponse(w, resp)
}

// handleH1 serves one or more HTTP/1.1 requests over an already
// TLS-terminated plaintext stream, using a dedicated one-shot listener so
// the standard net/http server machinery (keep-alive, chunked bodies,
// pipelining) handles request framing instead of a hand-rolled reader.
func (p *Proxy) handleH1(pc *peekConn, authority, host, alpn string) {
	ln := newSingleConnListener(pc)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			r.URL.Host = host
			if isWebSocketUpgrade(r) {
				p.handleWebSocket(w, r, authority, true)
				return
			}
			resp, err := p.runPipeline(r.Context(), r, r.RemoteAddr, alpn)
			if err != nil {
				httpError(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeResponse(w, resp)
		}),
	}
	_ = srv.Serve(ln)
}

// handlePlainH1 serves a CONNECT tunnel whose first bytes turned out not to
// be TLS (§4.1 concrete scenario 1, "GET over H1"): same dispatch as
// handleH1, but over the plaintext stream with no local TLS termination.
// r.URL.Scheme is deliberately left empty here rather than hardcoded, so
// runPipeline's Phase C fallback resolves it to "http" from alpn=="" (§4.3
// Phase C: "fall back to https if ALPN indicates TLS else http").
func (p *Proxy) handlePlainH1(pc *peekConn, authority, host string) {
	ln := newSingleConnListener(pc)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Host = host
			if isWebSocketUpgrade(r) {
				p.handleWebSocket(w, r, authority, false)
				return
			}
			resp, err := p.runPipeline(r.Context(), r, r.RemoteAddr, "")
			if err != nil {
				httpError(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeResponse(w, resp)
		}),
	}
	_ = srv.Serve(ln)
}

// handleH2 serves an HTTP/2 connection negotiated over the terminated TLS
// tunnel, reusing golang.org/x/net/http2's server frame layer rather than
// reimplementing HTTP/2 framing (§4.3).
//
// Grounded on denisvmedia/go-mitmproxy's proxy/internal/attacker.Attacker.serveConn's h2
// branch (http2.Server.ServeConn over the intercepted *tls.Conn).
func (p *Proxy) handleH2(pc *peekConn, authority, host string) {
	h2srv := &http2.Server{}
	h2srv.ServeConn(pc, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			r.URL.Host = host
			resp, err := p.runPipeline(r.Context(), r, r.RemoteAddr, "h2")
			if err != nil {
				httpError(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeResponse(w, resp)
		}),
	})
}

// runPipeline is the three-phase ingest/intercept/upstream exchange every
// protocol handler funnels through (§4.7, §4.9):
//  1. Ingest: decode the wire request into a flow.InterceptedRequest,
//     register it with the flow store.
//  2. Intercept: run the script runtime's request hook; if it produced a
//     ready response, short-circuit (§4.7 Early response).
//  3. Upstream: otherwise forward to the origin, then run the response
//     hook over what came back.
func (p *Proxy) runPipeline(ctx context.Context, r *http.Request, clientAddr, alpn string) (*flow.InterceptedResponse, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	reqEncoding := encoding.ParseChain(r.Header.Get("Content-Encoding"))
	decodedBody, err := encoding.Decode(body, reqEncoding)
	if err != nil {
		// The original bytes go upstream as received: the chain is cleared
		// so they are not re-encoded, and the Content-Encoding header is
		// left in place.
		decodedBody = body
		reqEncoding = nil
	}

	uri := r.URL
	if uri.Scheme == "" {
		// §4.3 Phase C: fall back to https if ALPN indicates TLS, else http.
		// alpn is only ever "" for requests that never went through a TLS
		// handshake (handlePlainH1, handleDirect); every TLS-terminated
		// handler sets r.URL.Scheme explicitly before calling runPipeline,
		// so this branch never sees alpn=="" from a negotiated-but-empty
		// ALPN TLS connection.
		scheme := "http"
		if alpn != "" {
			scheme = "https"
		}
		uri = &url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	}

	ireq := flow.NewInterceptedRequest(r.Method, uri, alpn, r.Proto, r.Header, decodedBody, r.Trailer, reqEncoding)

	id := p.Store.NewFlow(clientAddr, ireq)
	f, _ := p.Store.Get(id)

	if p.Script != nil {
		if err := p.Script.InterceptRequest(ctx, f); err != nil {
			p.log.Error("intercept_request hook failed", "flow", id, "error", err)
		}
	}

	var resp *flow.InterceptedResponse
	if f.Response.IsReady() {
		resp = f.Response
	} else {
		upstream := p.upstreamFor(alpn)
		emit := emitterFunc(func(ev flow.Event) { p.Store.PostEvent(id, ev) })
		resp, err = upstream.Request(ctx, f.Request, emit)
		if err != nil {
			p.Store.PostEvent(id, flow.ErrorEvent{Err: err.Error()})
			return nil, err
		}
		p.Store.PostEvent(id, flow.ResponseEvent{Response: resp})
	}

	if p.Script != nil {
		f2, _ := p.Store.Get(id)
		if err := p.Script.InterceptResponse(ctx, f2); err != nil {
			p.log.Error("intercept_response hook failed", "flow", id, "error", err)
		}
		resp = f2.Response
	}

	return resp, nil
}

// writeResponse re-encodes an InterceptedResponse back onto the wire,
// restoring the Content-Encoding chain that was stripped on ingest.
func writeResponse(w http.ResponseWriter, resp *flow.InterceptedResponse) {
	body, err := encoding.Encode(resp.Body, resp.ContentEncoding)
	if err != nil {
		body = resp.Body
	}
	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if len(resp.ContentEncoding) > 0 {
		header.Set("Content-Encoding", encoding.FormatChain(resp.ContentEncoding))
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// singleConnListener is a net.Listener that yields exactly one connection
// and closes itself once that connection is closed, letting
// http.Server.Serve drive a single already-accepted conn through the
// standard request/response machinery and return when the conn is done.
type singleConnListener struct {
	conn      net.Conn
	ch        chan net.Conn
	closeOnce sync.Once
}

func newSingleConnListener(c net.Conn) *singleConnListener {
	l := &singleConnListener{conn: c, ch: make(chan net.Conn, 1)}
	l.ch <- &listenerConn{Conn: c, l: l}
	return l
}

// listenerConn closes its listener when the served connection is closed,
// whether by the server or by a handler that hijacked it.
type listenerConn struct {
	net.Conn
	l *singleConnListener
}

func (c *listenerConn) Close() error {
	err := c.Conn.Close()
	_ = c.l.Close()
	return err
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	c, ok := <-l.ch
	if !ok {
		return nil, errListenerClosed
	}
	return c, nil
}

func (l *singleConnListener) Close() error {
	l.closeOnce.Do(func() { close(l.ch) })
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

var errListenerClosed = errors.New("proxy: single-conn listener closed")
