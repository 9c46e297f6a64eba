package proxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"

	"github.com/roxyproxy/roxy/internal/helper"
)

// handleConnect answers a CONNECT tunnel request. When the authority is not
// intercepted (§4.1 shouldIntercept), it dials upstream once and relays raw
// bytes both ways. Otherwise it replies 200 on the hijacked client
// connection and hands it to handleMITM, which either terminates TLS
// locally with a minted leaf certificate (HTTP/1.1 or HTTP/2 dispatch) or
// serves the tunnel as plain HTTP/1.1 (§4.2, §4.3).
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	if authority == "" {
		authority = r.URL.Host
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		httpError(w, "webserver doesn't support hijacking", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		httpError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !p.shouldIntercept(authority) {
		p.tunnelWithoutIntercept(clientConn, authority)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		p.logErr(err)
		clientConn.Close()
		return
	}

	p.handleMITM(clientConn, authority)
}

// tunnelWithoutIntercept dials the origin directly and relays bytes with no
// visibility into the tunneled protocol (§4.1: hosts outside the intercept
// policy are passed through transparently).
func (p *Proxy) tunnelWithoutIntercept(clientConn net.Conn, authority string) {
	ctx, cancel := p.dialTimeoutCtx(context.Background())
	defer cancel()

	var d net.Dialer
	serverConn, err := d.DialContext(ctx, "tcp", canonicalAuthority("https", authority))
	if err != nil {
		p.logErr(err)
		clientConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		p.logErr(err)
		clientConn.Close()
		serverConn.Close()
		return
	}

	transfer(p.log, serverConn, clientConn)
}

// handleMITM classifies what the client actually sends next on the tunnel
// before committing to a protocol (§4.1 concrete scenario 1: CONNECT
// followed by a plain, non-TLS request must still be served, not fail a TLS
// handshake). It peeks the first bytes; a TLS record header (0x16 0x03...)
// terminates TLS locally and dispatches by negotiated ALPN, anything else is
// served as a plaintext HTTP/1.1 stream (§4.2, §4.3).
func (p *Proxy) handleMITM(clientConn net.Conn, authority string) {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}

	pc := newPeekConn(clientConn)
	isTLS, err := looksLikeTLS(pc)
	if err != nil {
		p.logErr(err)
		clientConn.Close()
		return
	}
	if !isTLS {
		p.handlePlainH1(pc, authority, host)
		return
	}

	tlsConfig := p.tlsConfigFor()
	tlsConn := tls.Server(pc, tlsConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		p.logErr(err)
		clientConn.Close()
		return
	}

	state := tlsConn.ConnectionState()
	tlsPC := newPeekConn(tlsConn)

	switch state.NegotiatedProtocol {
	case "h2":
		p.handleH2(tlsPC, authority, host)
	default:
		p.handleH1(tlsPC, authority, host, state.NegotiatedProtocol)
	}
}

func (p *Proxy) logErr(err error) {
	logErr(p.log, err)
}

// canonicalAuthority normalizes a CONNECT authority to a host:port pair,
// defaulting to scheme's standard port (e.g. 80 for "http"/"ws", 443 for
// "https"/"wss") when the client omitted one.
func canonicalAuthority(scheme, authority string) string {
	return helper.CanonicalAddr(&url.URL{Scheme: scheme, Host: authority})
}
