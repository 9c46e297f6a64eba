package proxy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/roxyproxy/roxy/flow"
)

// newTestProxy builds a Proxy with a throwaway CA store and a discard
// logger, suitable for tests that exercise connect.go/pipeline.go/
// websocket.go without a real upstream client.
func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	p, err := New(&Config{CAStorePath: t.TempDir()}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// fakeUpstream is a recording UpstreamClient: it never dials out, just
// returns whatever response was configured and remembers every request it
// was asked to serve (§4.9's UpstreamClient contract).
type fakeUpstream struct {
	mu    sync.Mutex
	resp  *flow.InterceptedResponse
	err   error
	calls []*flow.InterceptedRequest
}

func (f *fakeUpstream) Request(_ context.Context, req *flow.InterceptedRequest, _ Emitter) (*flow.InterceptedResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeUpstream) lastCall() *flow.InterceptedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}
