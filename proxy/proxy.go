// Package proxy implements the intercepting HTTP/HTTPS proxy engine: the
// CONNECT/plain-request listener, the per-exchange ingest/intercept/upstream
// pipeline, and the WebSocket bridge (§4).
//
// Grounded on denisvmedia/go-mitmproxy's proxy.Proxy, which wires one
// net/http.Server to an addon registry; this generalizes that wiring to a
// flow.Store, a script.Runtime, and a cert.CA instead of addons.
package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"

	"github.com/quic-go/quic-go"

	"github.com/roxyproxy/roxy/cert"
	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/internal/helper"
	"github.com/roxyproxy/roxy/script"
)

// Proxy ties together the listener, the certificate authority, the flow
// store, the script runtime, and the upstream clients (§4.1-§4.9).
type Proxy struct {
	Config *Config
	CA     cert.CA
	Store  *flow.Store
	Script *script.Runtime

	h1 UpstreamClient
	h2 UpstreamClient
	h3 UpstreamClient

	server     *http.Server
	listener   net.Listener
	h3Listener *quic.Listener
	log        *slog.Logger
}

// Option customizes a Proxy at construction time.
type Option func(*Proxy)

// WithUpstreamClients overrides the default H1/H2 upstream clients, mainly
// for tests that want a fake UpstreamClient instead of dialing out.
func WithUpstreamClients(h1, h2 UpstreamClient) Option {
	return func(p *Proxy) {
		p.h1 = h1
		p.h2 = h2
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) { p.log = l }
}

// New builds a Proxy from cfg, minting or loading the dynamic CA (§4.2). The
// caller attaches a script.Runtime afterwards (Proxy.Script) once one has
// been built for the configured script path, if any.
func New(cfg *Config, opts ...Option) (*Proxy, error) {
	ca, err := cert.NewSelfSignCA(cfg.CAStorePath)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		Config: cfg,
		CA:     ca,
		Store:  flow.NewStore(),
		log:    slog.Default(),
	}
	p.h1 = NewH1Client(cfg)
	p.h2 = NewH2Client(cfg)
	p.h3 = NewH3Client(cfg)

	for _, opt := range opts {
		opt(p)
	}

	p.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           p,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return p, nil
}

// ListenAndServe starts accepting connections; it blocks until the listener
// stops, returning http.ErrServerClosed on a clean Shutdown.
func (p *Proxy) ListenAndServe() error {
	ln, err := net.Listen("tcp", p.Config.Addr)
	if err != nil {
		return err
	}
	p.listener = ln
	return p.server.Serve(ln)
}

// Shutdown gracefully stops the listener and, if a script runtime is
// attached, stops it too.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.Script != nil {
		p.Script.Close()
	}
	_ = p.ShutdownH3()
	return p.server.Shutdown(ctx)
}

// ServeHTTP routes CONNECT tunnels to handleConnect and anything else
// (plain HTTP proxying, §4.1) to handleDirect.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleDirect(w, r)
}

// shouldIntercept applies the Config.AllowedHosts/IgnoredHosts policy to a
// CONNECT authority (§4.1). IgnoredHosts wins on conflict; an empty
// AllowedHosts means "everything not ignored".
func (p *Proxy) shouldIntercept(authority string) bool {
	if matchHost(authority, p.Config.IgnoredHosts) {
		return false
	}
	if len(p.Config.AllowedHosts) == 0 {
		return true
	}
	return matchHost(authority, p.Config.AllowedHosts)
}

// upstreamFor picks the upstream client matching the negotiated client
// ALPN/protocol (§4.9: version tracks what the client negotiated, never
// renegotiated independently with the origin).
func (p *Proxy) upstreamFor(alpn string) UpstreamClient {
	switch alpn {
	case "h2":
		return p.h2
	case "h3":
		return p.h3
	default:
		return p.h1
	}
}

// tlsConfigFor returns a server-side *tls.Config that mints a leaf
// certificate for whatever SNI the client presents (§4.2).
func (p *Proxy) tlsConfigFor() *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = "localhost"
			}
			return p.CA.GetCert(name)
		},
		NextProtos:   []string{"h2", "http/1.1"},
		KeyLogWriter: helper.GetTLSKeyLogWriter(),
	}
}

func (p *Proxy) dialTimeoutCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, p.Config.dialTimeout())
}
