package js

import (
	"github.com/dop251/goja"

	"github.com/roxyproxy/roxy/script"
)

// prelude wraps the Go views (exposed to goja via reflection, where every
// exported method becomes a callable JS member) in plain JS getter/setter
// object literals, giving scripts the "request.method"-style property
// syntax §4.7 requires without depending on goja's native accessor-property
// Go API. This is ordinary ECMAScript, not a binding-layer detail — keeping
// it in JS rather than Go mirrors how the Lua flavor's bindings.go stays on
// the Go side only because Lua tables have no native getter/setter syntax.
const prelude = `
function __headers(h) {
  return {
    get: function(name) { var v = h.Get(name); return v[1] ? v[0] : undefined; },
    getAll: function(name) { return h.GetAll(name); },
    set: function(name, value) { h.Set(name, value); },
    append: function(name, value) { h.Append(name, value); },
    delete: function(name) { h.Delete(name); },
    has: function(name) { return h.Has(name); },
  };
}
function __body(b) {
  return {
    get text() { return b.Text(); },
    set text(v) { b.SetText(v); },
    get raw() { return b.Raw(); },
    set raw(v) { b.SetRaw(v); },
    get length() { return b.Length(); },
    get is_empty() { return b.IsEmpty(); },
    clear: function() { b.Clear(); },
    get_text: function() { return b.Text(); },
    set_text: function(v) { b.SetText(v); },
    get_raw: function() { return b.Raw(); },
    set_raw: function(v) { b.SetRaw(v); },
  };
}
function __query(q) {
  return {
    get: function(key) { var v = q.Get(key); return v[1] ? v[0] : undefined; },
    getAll: function(key) { return q.GetAll(key); },
    set: function(key, v) { q.Set(key, v); },
    append: function(key, v) { q.Append(key, v); },
    delete: function(key) { q.Delete(key); },
    has: function(key) { return q.Has(key); },
    clear: function() { q.Clear(); },
    sort: function() { q.Sort(); },
    toString: function() { return q.ToString(); },
  };
}
function __url(u) {
  return {
    get href() { return u.Href(); },
    set href(v) { u.SetHref(v); },
    get scheme() { return u.Scheme(); },
    set scheme(v) { u.SetScheme(v); },
    get username() { return u.Username(); },
    set username(v) { u.SetUsername(v); },
    get password() { return u.Password(); },
    set password(v) { u.SetPassword(v); },
    get authority() { return u.Authority(); },
    get host() { return u.Host(); },
    get hostname() { return u.Hostname(); },
    get port() { return u.Port(); },
    set port(v) { u.SetPort(v); },
    get path() { return u.Path(); },
    set path(v) { u.SetPath(v); },
    get search() { return u.Search(); },
    set search(v) { u.SetSearch(v); },
    get origin() { return u.Origin(); },
    get searchParams() { return __query(u.SearchParams()); },
  };
}
function __request(r) {
  return {
    get method() { return r.Method(); },
    set method(v) { r.SetMethod(v); },
    get version() { return r.Version(); },
    set version(v) { r.SetVersion(v); },
    get url() { return __url(r.URL()); },
    get headers() { return __headers(r.Headers()); },
    get trailers() { return __headers(r.Trailers()); },
    get body() { return __body(r.Body()); },
  };
}
function __response(r) {
  return {
    get status() { return r.Status(); },
    set status(v) { r.SetStatus(v); },
    get version() { return r.Version(); },
    set version(v) { r.SetVersion(v); },
    get headers() { return __headers(r.Headers()); },
    get trailers() { return __headers(r.Trailers()); },
    get body() { return __body(r.Body()); },
  };
}
function __flow(req, resp) {
  return {
    get request() { return req === null ? undefined : __request(req); },
    get response() { return __response(resp); },
  };
}
`

func loadPrelude(vm *goja.Runtime) error {
	_, err := vm.RunString(prelude)
	return err
}

func newFlowObject(vm *goja.Runtime, fv *script.FlowView) goja.Value {
	fn, ok := goja.AssertFunction(vm.Get("__flow"))
	if !ok {
		return goja.Undefined()
	}
	var reqArg goja.Value = goja.Null()
	if fv.Request != nil {
		reqArg = vm.ToValue(fv.Request)
	}
	respArg := vm.ToValue(fv.Response)
	v, err := fn(goja.Undefined(), reqArg, respArg)
	if err != nil {
		return goja.Undefined()
	}
	return v
}
