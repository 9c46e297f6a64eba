package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/roxyproxy/roxy/encoding"
	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/internal/helper"
	"github.com/roxyproxy/roxy/roxyerr"
)

// Emitter reports upstream connection lifecycle events to a flow (§4.9:
// "All emit TcpConnect, ClientHttpHandshakeStart/Complete, ClientTlsConn...
// via an injected emitter").
type Emitter interface {
	Post(ev flow.Event)
}

// emitterFunc adapts a function to Emitter.
type emitterFunc func(flow.Event)

func (f emitterFunc) Post(ev flow.Event) { f(ev) }

// UpstreamClient is the common contract of §4.9's three per-version
// implementations: request(Request) -> Response, never retrying.
type UpstreamClient interface {
	Request(ctx context.Context, req *flow.InterceptedRequest, emit Emitter) (*flow.InterceptedResponse, error)
}

// httpUpstreamClient backs the H1/H2 implementations; the only difference
// between them is whether the underlying http.Transport is allowed to
// negotiate HTTP/2 over TLS (ForceAttemptHTTP2), so they share one type
// parameterized on that flag (§4.9).
//
// Grounded on denisvmedia/go-mitmproxy's proxy/internal/upstream.Manager (per-scenario
// *http.Client construction resolving an upstream proxy URL) and
// internal/helper/proxy.go's SOCKS5 dialer wiring, generalized from
// per-request upstream-proxy resolution to a single configured
// UpstreamProxy (§4.9 has no per-request upstream-selection hook).
type httpUpstreamClient struct {
	client *http.Client
}

// NewH1Client builds an upstream client restricted to HTTP/1.1.
func NewH1Client(cfg *Config) *httpUpstreamClient {
	return newHTTPUpstreamClient(cfg, false)
}

// NewH2Client builds an upstream client that prefers HTTP/2 over TLS.
func NewH2Client(cfg *Config) *httpUpstreamClient {
	return newHTTPUpstreamClient(cfg, true)
}

func newHTTPUpstreamClient(cfg *Config, allowH2 bool) *httpUpstreamClient {
	dialer := &net.Dialer{Timeout: cfg.dialTimeout()}

	transport := &http.Transport{
		TLSHandshakeTimeout:   cfg.dialTimeout(),
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     allowH2,
		DialContext:           dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			KeyLogWriter:       helper.GetTLSKeyLogWriter(),
		},
	}

	if cfg.UpstreamProxy != "" {
		if proxyURL, err := url.Parse(cfg.UpstreamProxy); err == nil {
			proxyTLSConfig := &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				KeyLogWriter:       helper.GetTLSKeyLogWriter(),
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return helper.GetProxyConn(ctx, proxyURL, addr, proxyTLSConfig)
			}
		}
	}

	if allowH2 {
		_ = http2.ConfigureTransport(transport)
	}

	return &httpUpstreamClient{client: &http.Client{
		Transport: transport,
		// Redirects are the caller's concern, not the upstream client's:
		// each redirect would otherwise be a second, silently-retried
		// request, violating §4.9's "none retry" contract.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}}
}

// traceEvents attaches an httptrace.ClientTrace that turns connection
// lifecycle callbacks into flow events, so upstream requests emit
// TCPConnect/ClientTLSConn regardless of which Transport internals handled
// the dial (§4.9).
func traceEvents(ctx context.Context, emit Emitter, serverName string) context.Context {
	trace := &httptrace.ClientTrace{
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				emit.Post(flow.TCPConnect{Addr: addr})
			}
		},
		TLSHandshakeDone: func(cs tls.ConnectionState, err error) {
			params := &flow.TLSParams{
				Version:         cs.Version,
				CipherSuite:     cs.CipherSuite,
				ServerName:      cs.ServerName,
				NegotiatedProto: cs.NegotiatedProtocol,
			}
			var verify *flow.VerificationResult
			if len(cs.PeerCertificates) > 0 {
				verify = &flow.VerificationResult{
					Chain:      cs.PeerCertificates,
					ServerName: serverName,
					At:         time.Now(),
					Err:        verificationErr(cs.PeerCertificates, serverName),
				}
			}
			emit.Post(flow.ClientTLSConn{Params: params, Verify: verify})
		},
	}
	return httptrace.WithClientTrace(ctx, trace)
}

// verificationErr shadow-verifies the presented chain against the system
// roots without influencing whether Go's own TLS stack accepted the
// connection (§4.2: "capture is observability, not bypass" — the real
// decision already happened inside crypto/tls before this trace callback
// ever runs).
func verificationErr(chain []*x509.Certificate, serverName string) error {
	if len(chain) == 0 {
		return nil
	}
	opts := x509.VerifyOptions{DNSName: serverName, Intermediates: x509.NewCertPool()}
	for _, c := range chain[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, err := chain[0].Verify(opts)
	return err
}

// Request performs one upstream round trip, translating the materialized
// InterceptedRequest into a wire http.Request and back, emitting the
// connection-lifecycle events §4.9 requires around the dial and handshake.
func (c *httpUpstreamClient) Request(ctx context.Context, req *flow.InterceptedRequest, emit Emitter) (*flow.InterceptedResponse, error) {
	body, err := encoding.Encode(req.Body, req.ContentEncoding)
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindHTTP, "upstream.Request", err)
	}

	ctx = traceEvents(ctx, emit, req.URI.Hostname())

	wireReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI.String(), bytes.NewReader(body))
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindURI, "upstream.Request", err)
	}
	wireReq.Header = req.Header.Clone()
	if len(req.ContentEncoding) > 0 {
		wireReq.Header.Set("Content-Encoding", encoding.FormatChain(req.ContentEncoding))
	}
	wireReq.ContentLength = int64(len(body))

	emit.Post(flow.ClientHTTPHandshakeStart{})
	resp, err := c.client.Do(wireReq)
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindProxyConnect, "upstream.Request", err)
	}
	defer resp.Body.Close()
	emit.Post(flow.ClientHTTPHandshakeComplete{})

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody+1))
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindIO, "upstream.Request", err)
	}
	if len(rawBody) > maxUpstreamBody {
		return nil, roxyerr.New(roxyerr.KindIO, "upstream.Request", errBodyTooLarge)
	}

	respEncoding := encoding.ParseChain(resp.Header.Get("Content-Encoding"))
	decoded, decErr := encoding.Decode(rawBody, respEncoding)
	if decErr != nil {
		decoded = rawBody
	}

	out := flow.NewInterceptedResponse(resp.StatusCode, versionString(resp.Proto), resp.Header, decoded, cloneTrailer(resp.Trailer), respEncoding)
	return out, nil
}

var errBodyTooLarge = &upstreamError{"upstream response body exceeds limit"}

type upstreamError struct{ msg string }

func (e *upstreamError) Error() string { return e.msg }

func versionString(proto string) string {
	if strings.HasPrefix(proto, "HTTP/") {
		return proto
	}
	return "HTTP/1.1"
}

func cloneTrailer(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	return h.Clone()
}

const maxUpstreamBody = 64 << 20 // 64MiB, generous but bounded (§5 resource model)
