package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/roxyproxy/roxy/flow"
)

func TestCanonicalAuthorityDefaultsPortByScheme(t *testing.T) {
	c := qt.New(t)

	c.Assert(canonicalAuthority("ws", "example.com"), qt.Equals, "example.com:80")
	c.Assert(canonicalAuthority("wss", "example.com"), qt.Equals, "example.com:443")
	c.Assert(canonicalAuthority("https", "example.com"), qt.Equals, "example.com:443")
	c.Assert(canonicalAuthority("ws", "example.com:9000"), qt.Equals, "example.com:9000")
}

// TestHandleMITMRoutesPlainHTTPOverCONNECT is §4.1 concrete scenario 1, "GET
// over H1": a CONNECT tunnel whose first bytes are a plain (non-TLS) HTTP/1.1
// request must be served as plain HTTP, not fail a TLS handshake.
func TestHandleMITMRoutesPlainHTTPOverCONNECT(t *testing.T) {
	c := qt.New(t)
	p := newTestProxy(t)
	fake := &fakeUpstream{resp: flow.NewInterceptedResponse(http.StatusOK, "HTTP/1.1", http.Header{"X-From": {"fake"}}, []byte("hi"), nil, nil)}
	p.h1 = fake

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		p.handleMITM(serverSide, "example.com:8080")
		close(done)
	}()

	req, err := http.NewRequest(http.MethodGet, "http://example.com:8080/hello", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(req.Write(clientSide), qt.IsNil)

	resp, err := http.ReadResponse(bufio.NewReader(clientSide), req)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("X-From"), qt.Equals, "fake")

	c.Assert(clientSide.Close(), qt.IsNil)
	<-done

	call := fake.lastCall()
	c.Assert(call, qt.IsNotNil)
	c.Assert(call.URI.Scheme, qt.Equals, "http")
	c.Assert(call.URI.Host, qt.Equals, "example.com:8080")
}

// TestHandleMITMTerminatesTLSWhenClientHelloSeen confirms the classification
// step still routes a genuine TLS ClientHello into the existing TLS-dial
// path (§4.2) instead of the new plain-HTTP branch.
func TestHandleMITMTerminatesTLSWhenClientHelloSeen(t *testing.T) {
	c := qt.New(t)
	p := newTestProxy(t)
	fake := &fakeUpstream{resp: flow.NewInterceptedResponse(http.StatusOK, "HTTP/1.1", http.Header{}, []byte("ok"), nil, nil)}
	p.h1 = fake

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		p.handleMITM(serverSide, "example.com:443")
		close(done)
	}()

	tlsClient := tls.Client(clientSide, &tls.Config{InsecureSkipVerify: true, ServerName: "example.com"})
	c.Assert(tlsClient.HandshakeContext(context.Background()), qt.IsNil)

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(req.Write(tlsClient), qt.IsNil)

	resp, err := http.ReadResponse(bufio.NewReader(tlsClient), req)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	c.Assert(tlsClient.Close(), qt.IsNil)
	<-done

	call := fake.lastCall()
	c.Assert(call, qt.IsNotNil)
	c.Assert(call.URI.Scheme, qt.Equals, "https")
}
