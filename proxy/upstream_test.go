package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/roxyproxy/roxy/flow"
)

type noopEmitter struct{}

func (noopEmitter) Post(flow.Event) {}

func TestHTTPUpstreamClientRequestRoundTrips(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.Check(string(body), qt.Equals, "ping")
		w.Header().Set("X-Reply", "pong")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("pong"))
	}))
	defer origin.Close()

	client := NewH1Client(&Config{})

	u, err := url.Parse(origin.URL + "/echo")
	c.Assert(err, qt.IsNil)

	req := flow.NewInterceptedRequest(http.MethodPost, u, "", "HTTP/1.1", http.Header{}, []byte("ping"), nil, nil)

	resp, err := client.Request(context.Background(), req, noopEmitter{})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Status, qt.Equals, http.StatusCreated)
	c.Assert(string(resp.Body), qt.Equals, "pong")
	c.Assert(resp.Header.Get("X-Reply"), qt.Equals, "pong")
}

// TestHTTPUpstreamClientDoesNotFollowRedirects is §4.9's "none retry"
// contract: a redirect must come back as the 3xx response itself, not be
// silently followed as a second request.
func TestHTTPUpstreamClientDoesNotFollowRedirects(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer origin.Close()

	client := NewH1Client(&Config{})

	u, err := url.Parse(origin.URL + "/start")
	c.Assert(err, qt.IsNil)
	req := flow.NewInterceptedRequest(http.MethodGet, u, "", "HTTP/1.1", http.Header{}, nil, nil, nil)

	resp, err := client.Request(context.Background(), req, noopEmitter{})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Status, qt.Equals, http.StatusFound)
	c.Assert(resp.Header.Get("Location"), qt.Equals, "/elsewhere")
}
