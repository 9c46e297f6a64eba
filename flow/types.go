// Package flow implements the proxy's data model: the materialized
// request/response pair captured per exchange (Flow), the registry that
// holds every flow for the process lifetime (Store), and the incremental
// FlowEvent union that mutates a flow under a single-writer discipline.
//
// This generalizes denisvmedia/go-mitmproxy's proxy/internal/types.Flow
// — which holds one *http.Request/*http.Response pair addons see directly —
// into a richer, protocol-independent InterceptedRequest/Response
// plus a central store addons/UI observe through events instead of direct calls.
package flow

import (
	"net/http"
	"net/url"
	"time"

	"github.com/samber/lo"
)

// InterceptedRequest is the materialized, script-mutable view of one
// client request. content-length and transfer-encoding never appear in
// Header; they are reconstructed by the upstream client from Body and
// ContentEncoding (§3 invariant).
type InterceptedRequest struct {
	Timestamp   time.Time
	URI         *url.URL
	ALPN        string
	Method      string
	HTTPVersion string
	Header      http.Header
	Body        []byte
	Trailer     http.Header // nil when the request carried no trailers

	// ContentEncoding is the original content-encoding chain, outer→inner
	// (e.g. ["gzip", "br"] for "Content-Encoding: gzip, br"). Body is
	// decoded through this chain on ingest; it is re-encoded outer→inner
	// before the request is sent upstream.
	ContentEncoding []string
}

// Clone returns a deep-enough copy for handing to a second pipeline stage
// without aliasing the header/trailer maps.
func (r *InterceptedRequest) Clone() *InterceptedRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Header = cloneHeader(r.Header)
	cp.Trailer = cloneHeader(r.Trailer)
	cp.Body = append([]byte(nil), r.Body...)
	cp.ContentEncoding = append([]string(nil), r.ContentEncoding...)
	if r.URI != nil {
		u := *r.URI
		cp.URI = &u
	}
	return &cp
}

// InterceptedResponse is the materialized, script-mutable view of one
// upstream (or early-synthesized) response. Same content-length /
// transfer-encoding and content-encoding invariants as InterceptedRequest.
type InterceptedResponse struct {
	Timestamp       time.Time
	Status          int
	HTTPVersion     string
	Header          http.Header
	Body            []byte
	Trailer         http.Header
	ContentEncoding []string
}

// IsReady reports whether a response produced during intercept_request is
// "ready" and should short-circuit the upstream call (§4.7 Early response):
// status set away from the zero value, a non-empty body, non-empty headers,
// or any trailers at all.
func (r *InterceptedResponse) IsReady() bool {
	if r == nil {
		return false
	}
	if r.Status != 0 {
		return true
	}
	if len(r.Body) > 0 {
		return true
	}
	if len(r.Header) > 0 {
		return true
	}
	if r.Trailer != nil {
		return true
	}
	return false
}

// cloneHeader deep-copies a header multimap so a cloned/ingested
// Request/Response never aliases the caller's slices.
func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	return http.Header(lo.MapValues(map[string][]string(h), func(v []string, _ string) []string {
		return append([]string(nil), v...)
	}))
}

// stripHopByHop removes content-length and transfer-encoding from header,
// the invariant every InterceptedRequest/InterceptedResponse holds (§3, §8
// invariant 2). Callers reconstruct these when re-encoding for the wire.
func stripHopByHop(h http.Header) {
	h.Del("Content-Length")
	h.Del("Transfer-Encoding")
}

// NewInterceptedRequest builds an InterceptedRequest from wire parts. body
// is the already content-encoding-decoded payload; encoding is the original
// chain extracted from the Content-Encoding header before decoding.
func NewInterceptedRequest(method string, uri *url.URL, alpn, httpVersion string, header http.Header, body []byte, trailer http.Header, encoding []string) *InterceptedRequest {
	h := cloneHeader(header)
	if h == nil {
		h = make(http.Header)
	}
	stripHopByHop(h)
	return &InterceptedRequest{
		Timestamp:       time.Now(),
		URI:             uri,
		ALPN:            alpn,
		Method:          method,
		HTTPVersion:     httpVersion,
		Header:          h,
		Body:            body,
		Trailer:         trailer,
		ContentEncoding: encoding,
	}
}

// NewInterceptedResponse builds an InterceptedResponse from wire parts,
// applying the same header invariant as NewInterceptedRequest.
func NewInterceptedResponse(status int, httpVersion string, header http.Header, body []byte, trailer http.Header, encoding []string) *InterceptedResponse {
	h := cloneHeader(header)
	if h == nil {
		h = make(http.Header)
	}
	stripHopByHop(h)
	return &InterceptedResponse{
		Timestamp:       time.Now(),
		Status:          status,
		HTTPVersion:     httpVersion,
		Header:          h,
		Body:            body,
		Trailer:         trailer,
		ContentEncoding: encoding,
	}
}
