package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"

	"github.com/quic-go/quic-go/http3"

	"github.com/roxyproxy/roxy/encoding"
	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/internal/helper"
	"github.com/roxyproxy/roxy/roxyerr"
)

// h3UpstreamClient is the §4.9 H3 implementation: same Request contract as
// httpUpstreamClient, but every round trip goes out over QUIC via
// http3.Transport instead of net/http.Transport.
//
// Grounded on caddyserver/caddy's reverseproxy/httptransport.go h3Transport
// field and FarelRA-UnderPass's createH3Transport, both of which build a
// bare http3.Transport{TLSClientConfig: ...} and hand it to *http.Client as
// a plain http.RoundTripper.
type h3UpstreamClient struct {
	client *http.Client
}

// NewH3Client builds an upstream client that dials the origin over QUIC.
func NewH3Client(cfg *Config) *h3UpstreamClient {
	return &h3UpstreamClient{client: &http.Client{
		Transport: &http3.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				KeyLogWriter:       helper.GetTLSKeyLogWriter(),
			},
		},
		// Same §4.9 "none retry" reasoning as httpUpstreamClient.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}}
}

// Request mirrors httpUpstreamClient.Request field for field; §4.9's "H3
// upstream. Same capture contract, over QUIC" note means only the
// transport differs, not the encode/decode/emit shape, so this duplicates
// that method's body rather than factoring out a helper whose only
// varying part is the *http.Client construction.
//
// One capture gap against httpUpstreamClient: http3.Transport does not
// honor httptrace.ClientTrace the way net/http.Transport does over TCP, so
// no ClientTLSConn/TCPConnect events are emitted here. Documented as a
// known simplification rather than a fabricated event.
func (c *h3UpstreamClient) Request(ctx context.Context, req *flow.InterceptedRequest, emit Emitter) (*flow.InterceptedResponse, error) {
	body, err := encoding.Encode(req.Body, req.ContentEncoding)
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindHTTP, "h3upstream.Request", err)
	}

	wireReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI.String(), bytes.NewReader(body))
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindURI, "h3upstream.Request", err)
	}
	wireReq.Header = req.Header.Clone()
	if len(req.ContentEncoding) > 0 {
		wireReq.Header.Set("Content-Encoding", encoding.FormatChain(req.ContentEncoding))
	}
	wireReq.ContentLength = int64(len(body))

	emit.Post(flow.ClientHTTPHandshakeStart{})
	resp, err := c.client.Do(wireReq)
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindProxyConnect, "h3upstream.Request", err)
	}
	defer resp.Body.Close()
	emit.Post(flow.ClientHTTPHandshakeComplete{})

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody+1))
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindIO, "h3upstream.Request", err)
	}
	if len(rawBody) > maxUpstreamBody {
		return nil, roxyerr.New(roxyerr.KindIO, "h3upstream.Request", errBodyTooLarge)
	}

	respEncoding := encoding.ParseChain(resp.Header.Get("Content-Encoding"))
	decoded, decErr := encoding.Decode(rawBody, respEncoding)
	if decErr != nil {
		decoded = rawBody
	}

	out := flow.NewInterceptedResponse(resp.StatusCode, versionString(resp.Proto), resp.Header, decoded, cloneTrailer(resp.Trailer), respEncoding)
	return out, nil
}
