package proxy

import (
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestH3ConnectTarget(t *testing.T) {
	c := qt.New(t)

	c.Assert(h3ConnectTarget(&http.Request{Host: "example.com:443"}), qt.Equals, "example.com:443")
	c.Assert(h3ConnectTarget(&http.Request{URL: &url.URL{Host: "example.com:443"}}), qt.Equals, "example.com:443")
}

func TestH3ConnStateLockReplacesAuthority(t *testing.T) {
	c := qt.New(t)

	var state h3ConnState
	c.Assert(state.get(), qt.Equals, "")

	state.lock("example.com:443")
	c.Assert(state.get(), qt.Equals, "example.com:443")

	state.lock("other.example:443")
	c.Assert(state.get(), qt.Equals, "other.example:443")
}

func TestTLSConfigForH3AdvertisesH3ALPNOnly(t *testing.T) {
	c := qt.New(t)

	// GetCertificate is never invoked here, so a nil CA is fine: this only
	// checks the ALPN §4.2 says the UDP listener offers ("{h3} on UDP" vs.
	// the TCP listener's "{h2, http/1.1}").
	p := &Proxy{}
	tlsCfg := p.tlsConfigForH3()
	c.Assert(tlsCfg.NextProtos, qt.DeepEquals, []string{"h3"})
}
