package lua_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/script"
	luaengine "github.com/roxyproxy/roxy/script/lua"
)

func newTestFlow(c *qt.C) *flow.Flow {
	u, err := url.Parse("http://example.com/path?a=1")
	c.Assert(err, qt.IsNil)
	req := flow.NewInterceptedRequest("GET", u, "http/1.1", "HTTP/1.1", http.Header{}, nil, nil, nil)
	return &flow.Flow{ID: 1, Request: req}
}

const rewriteScript = `
Extensions = {
  {
    name = "rewriter",
    request = function(flow)
      flow.request.method = "POST"
      flow.request.headers:set("X-Injected", "yes")
      flow.request.body.text = "hello"
    end,
    response = function(flow)
      flow.response.status = 201
      flow.response.headers:set("X-Resp", "ok")
    end,
  },
}
`

func TestLuaEngineRequestHook(t *testing.T) {
	c := qt.New(t)
	var notifications []script.Notification
	e := luaengine.New(func(n script.Notification) { notifications = append(notifications, n) })
	defer e.Close()

	c.Assert(e.Load([]byte(rewriteScript)), qt.IsNil)

	f := newTestFlow(c)
	c.Assert(e.InterceptRequest(context.Background(), f), qt.IsNil)

	c.Assert(f.Request.Method, qt.Equals, "POST")
	c.Assert(f.Request.Header.Get("X-Injected"), qt.Equals, "yes")
	c.Assert(string(f.Request.Body), qt.Equals, "hello")
}

func TestLuaEngineResponseHook(t *testing.T) {
	c := qt.New(t)
	e := luaengine.New(nil)
	defer e.Close()

	c.Assert(e.Load([]byte(rewriteScript)), qt.IsNil)

	f := newTestFlow(c)
	c.Assert(e.InterceptResponse(context.Background(), f), qt.IsNil)

	c.Assert(f.Response.Status, qt.Equals, 201)
	c.Assert(f.Response.Header.Get("X-Resp"), qt.Equals, "ok")
}

const raisingScript = `
Extensions = {
  { name = "bad", request = function(flow) error("boom") end },
  { name = "good", request = function(flow) flow.request.headers:set("X-Good", "1") end },
}
`

func TestLuaEngineHookErrorIsLoggedAndSkipped(t *testing.T) {
	c := qt.New(t)
	var notifications []script.Notification
	e := luaengine.New(func(n script.Notification) { notifications = append(notifications, n) })
	defer e.Close()

	c.Assert(e.Load([]byte(raisingScript)), qt.IsNil)

	f := newTestFlow(c)
	c.Assert(e.InterceptRequest(context.Background(), f), qt.IsNil)

	c.Assert(f.Request.Header.Get("X-Good"), qt.Equals, "1")
	c.Assert(len(notifications) > 0, qt.IsTrue)
}
