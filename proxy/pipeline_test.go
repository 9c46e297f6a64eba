package proxy

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/roxyproxy/roxy/flow"
)

// TestRunPipelineSchemeFallbackToHTTPWhenALPNEmpty covers §4.3 Phase C: a
// request whose URL carries no scheme (the relative-form request line a
// plain CONNECT tunnel or direct proxy request parses to) falls back to
// "http" when alpn is empty, i.e. no TLS was ever terminated.
func TestRunPipelineSchemeFallbackToHTTPWhenALPNEmpty(t *testing.T) {
	c := qt.New(t)
	p := newTestProxy(t)
	fake := &fakeUpstream{resp: flow.NewInterceptedResponse(http.StatusOK, "HTTP/1.1", http.Header{}, nil, nil, nil)}
	p.h1 = fake

	r := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/hello"},
		Host:   "example.com:8080",
		Header: http.Header{},
		Proto:  "HTTP/1.1",
		Body:   http.NoBody,
	}

	_, err := p.runPipeline(context.Background(), r, "client:1", "")
	c.Assert(err, qt.IsNil)

	call := fake.lastCall()
	c.Assert(call, qt.IsNotNil)
	c.Assert(call.URI.Scheme, qt.Equals, "http")
	c.Assert(call.URI.Host, qt.Equals, "example.com:8080")
}

// TestRunPipelineSchemeFallbackToHTTPSWhenALPNSet covers the TLS-terminated
// side of the same Phase C fallback.
func TestRunPipelineSchemeFallbackToHTTPSWhenALPNSet(t *testing.T) {
	c := qt.New(t)
	p := newTestProxy(t)
	fake := &fakeUpstream{resp: flow.NewInterceptedResponse(http.StatusOK, "HTTP/2.0", http.Header{}, nil, nil, nil)}
	p.h2 = fake

	r := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/hello"},
		Host:   "example.com:8443",
		Header: http.Header{},
		Proto:  "HTTP/2.0",
		Body:   http.NoBody,
	}

	_, err := p.runPipeline(context.Background(), r, "client:1", "h2")
	c.Assert(err, qt.IsNil)

	call := fake.lastCall()
	c.Assert(call, qt.IsNotNil)
	c.Assert(call.URI.Scheme, qt.Equals, "https")
	c.Assert(call.URI.Host, qt.Equals, "example.com:8443")
}

// TestRunPipelineUpstreamErrorIsReturned covers the failure side of Phase C:
// when the upstream client fails, runPipeline hands that same error back to
// its caller instead of a response.
func TestRunPipelineUpstreamErrorIsReturned(t *testing.T) {
	c := qt.New(t)
	p := newTestProxy(t)
	sentinel := &fakeUpstream{err: errTestUpstream}
	p.h1 = sentinel

	r := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/hello"},
		Host:   "example.com:80",
		Header: http.Header{},
		Proto:  "HTTP/1.1",
		Body:   http.NoBody,
	}

	_, err := p.runPipeline(context.Background(), r, "client:1", "")
	c.Assert(err, qt.Equals, errTestUpstream)
}

var errTestUpstream = &upstreamError{"synthetic upstream failure for tests"}
