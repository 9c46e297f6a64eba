package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/roxyproxy/roxy/internal/helper"
)

// ListenAndServeH3 accepts QUIC connections on addr and serves HTTP/3
// (§4.4): the first request on a freshly accepted connection must be
// CONNECT with the tunnel authority; every subsequent request on that same
// connection is then dispatched through the same ingest/intercept/upstream
// pipeline the H1/H2 handlers use (pipeline.go), locked to that authority.
// It blocks until the listener is closed, returning the Accept error.
//
// Grounded on hazyhaar-touchstone-registry's pkg/chassis/server.go QUIC
// accept loop (quic.ListenAddr + per-connection http3.Server.ServeQUICConn)
// and caddyserver/caddy's modules/caddyhttp/server.go serveHTTP3.
func (p *Proxy) ListenAndServeH3(addr string) error {
	ln, err := quic.ListenAddr(addr, p.tlsConfigForH3(), &quic.Config{EnableDatagrams: true})
	if err != nil {
		return fmt.Errorf("proxy: listen h3: %w", err)
	}
	p.h3Listener = ln

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			return err
		}
		go p.serveH3Conn(conn)
	}
}

// ShutdownH3 closes the QUIC listener, if ListenAndServeH3 ever started one.
func (p *Proxy) ShutdownH3() error {
	if p.h3Listener == nil {
		return nil
	}
	return p.h3Listener.Close()
}

// tlsConfigForH3 mirrors tlsConfigFor but advertises only the "h3" ALPN, the
// way §4.2 describes the downstream listener offering "{h3} on UDP" as
// opposed to "{h2, http/1.1} on TCP".
func (p *Proxy) tlsConfigForH3() *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = "localhost"
			}
			return p.CA.GetCert(name)
		},
		NextProtos:   []string{"h3"},
		KeyLogWriter: helper.GetTLSKeyLogWriter(),
	}
}

// serveH3Conn handles one QUIC connection end to end: it locks the tunnel
// authority from the first CONNECT request, then runs every later request
// on the connection through runPipeline against that authority (§4.4 "a
// loop accepting subsequent bidirectional streams on the same connection,
// each carrying one request to the tunneled authority"). The authority is
// connection-scoped state closed over here rather than kept in a shared map,
// since http3.Server.ServeQUICConn blocks for exactly this one connection's
// lifetime (the same shape handleH2 uses with http2.Server.ServeConn).
func (p *Proxy) serveH3Conn(qconn *quic.Conn) {
	state := new(h3ConnState)
	clientAddr := qconn.RemoteAddr().String()

	h3srv := &http3.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodConnect {
				state.lock(h3ConnectTarget(r))
				w.WriteHeader(http.StatusOK)
				return
			}

			auth := state.get()
			if auth == "" {
				httpError(w, "no CONNECT authority established on this connection", http.StatusBadRequest)
				return
			}
			if !p.shouldIntercept(auth) {
				httpError(w, "host is not intercepted", http.StatusForbidden)
				return
			}

			host, _, err := net.SplitHostPort(auth)
			if err != nil {
				host = auth
			}
			r.URL.Scheme = "https"
			r.URL.Host = host

			resp, err := p.runPipeline(r.Context(), r, clientAddr, "h3")
			if err != nil {
				httpError(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeResponse(w, resp)
		}),
	}

	if err := h3srv.ServeQUICConn(qconn); err != nil {
		p.logErr(err)
	}
}

// h3ConnState holds the one CONNECT authority a QUIC connection is locked
// to, guarded by a mutex since the http3.Server handler may run concurrent
// requests on other streams of the same connection once the authority is
// set (§4.4).
type h3ConnState struct {
	mu        sync.Mutex
	authority string
}

func (s *h3ConnState) lock(authority string) {
	s.mu.Lock()
	s.authority = authority
	s.mu.Unlock()
}

func (s *h3ConnState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authority
}

// h3ConnectTarget extracts the tunnel authority from an H3 CONNECT request
// (§4.1's CONNECT contract, generalized from the TCP case's r.Host/r.URL.Host
// fallback in handleConnect).
func h3ConnectTarget(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return r.URL.Host
}
