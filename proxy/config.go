package proxy

import "time"

// Config is the proxy's static configuration (§6 External Interfaces:
// listen address, CA store, script path, host allow/ignore lists).
//
// Grounded on denisvmedia/go-mitmproxy's proxy/config.go Config struct, generalized from
// its addon-registration fields to this module's flow/script/cert wiring.
type Config struct {
	// Addr is the listen address for the main proxy port (both plain HTTP
	// proxy requests and CONNECT tunnels arrive here).
	Addr string

	// H3Addr is the UDP listen address for the QUIC/HTTP-3 ingress (§4.4).
	// Empty disables H3 entirely; ListenAndServeH3 is simply never called.
	H3Addr string

	// CAStorePath is where the dynamic root CA is persisted; empty uses the
	// per-user default (§4.2, cert.NewSelfSignCA).
	CAStorePath string

	// ScriptPath, when non-empty, is hot-reloaded by a script.Watcher and
	// drives the interception runtime (§4.7). The engine flavor is inferred
	// from its extension.
	ScriptPath string

	// AllowedHosts and IgnoredHosts are CONNECT-authority match patterns
	// (exact, "host:port", or "*.suffix" wildcard) deciding whether a given
	// tunnel is intercepted at all; IgnoredHosts wins on conflict. Empty
	// AllowedHosts means "intercept everything not ignored".
	AllowedHosts []string
	IgnoredHosts []string

	// UpstreamProxy, if set, is the URL of a proxy ("socks5://", "http://"
	// or "https://" scheme) used for outbound connections to origins,
	// dialed via internal/helper.GetProxyConn (§4.9).
	UpstreamProxy string

	// InsecureSkipVerify disables certificate verification against both
	// origin servers and an HTTPS-fronted UpstreamProxy.
	InsecureSkipVerify bool

	// DialTimeout bounds upstream TCP/TLS dials; zero uses a 10s default.
	DialTimeout time.Duration

	// ReadHeaderTimeout bounds how long the downstream HTTP server waits
	// for a request's headers.
	ReadHeaderTimeout time.Duration
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 10 * time.Second
}
