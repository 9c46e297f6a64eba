package script

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roxyproxy/roxy/flow"
)

var httpVersionRE = regexp.MustCompile(`^HTTP/[0-9]+\.[0-9]+$`)

// This file is the engine-independent object graph §4.7 describes: Request,
// Response, URL, Query, Headers, and Body "views" over a *flow.Flow. Each
// engine binding (Lua, JS) wraps these in its own native value type but
// delegates all reads/writes here, so get/set semantics — case-insensitive
// header names, CR/LF rejection, numeric/boolean coercion in query values,
// read-only accessor identity — are implemented exactly once.

// HeadersView exposes an http.Header with the get/getAll/set/append/delete
// contract of §4.7, rejecting values containing CR or LF.
type HeadersView struct{ h http.Header }

func NewHeadersView(h http.Header) *HeadersView { return &HeadersView{h: h} }

func validHeaderValue(v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return fmt.Errorf("header value must not contain CR/LF")
	}
	return nil
}

func (v *HeadersView) Get(name string) (string, bool) {
	vals := v.h.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (v *HeadersView) GetAll(name string) []string {
	return append([]string(nil), v.h.Values(name)...)
}

func (v *HeadersView) Set(name, value string) error {
	if err := validHeaderValue(value); err != nil {
		return err
	}
	v.h.Set(name, value)
	return nil
}

func (v *HeadersView) Append(name, value string) error {
	if err := validHeaderValue(value); err != nil {
		return err
	}
	v.h.Add(name, value)
	return nil
}

func (v *HeadersView) Delete(name string) { v.h.Del(name) }

func (v *HeadersView) Has(name string) bool { return len(v.h.Values(name)) > 0 }

// Entries returns (name, firstValue) pairs in a stable order, for iteration.
func (v *HeadersView) Entries() [][2]string {
	out := make([][2]string, 0, len(v.h))
	for name := range v.h {
		vals := v.h.Values(name)
		if len(vals) > 0 {
			out = append(out, [2]string{name, vals[0]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// BodyView exposes a *[]byte with the text/raw/length/is_empty/clear
// contract of §4.7.
type BodyView struct{ body *[]byte }

func NewBodyView(body *[]byte) *BodyView { return &BodyView{body: body} }

func (v *BodyView) Text() string     { return string(*v.body) }
func (v *BodyView) SetText(s string) { *v.body = []byte(s) }
func (v *BodyView) Raw() []byte      { return append([]byte(nil), *v.body...) }
func (v *BodyView) SetRaw(b []byte)  { *v.body = append([]byte(nil), b...) }
func (v *BodyView) Length() int      { return len(*v.body) }
func (v *BodyView) IsEmpty() bool    { return len(*v.body) == 0 }
func (v *BodyView) Clear()           { *v.body = nil }

// QueryView exposes url.Values with the get/getAll/set/append/delete/has/
// clear/sort/toString/bracket-index contract of §4.7. Values written via
// Set/Append coerce numbers and booleans to their string form, as
// scripting engines hand those through as native types.
type QueryView struct {
	values url.Values
	onSync func(url.Values)
}

func NewQueryView(values url.Values, onSync func(url.Values)) *QueryView {
	return &QueryView{values: values, onSync: onSync}
}

func coerce(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (v *QueryView) sync() {
	if v.onSync != nil {
		v.onSync(v.values)
	}
}

func (v *QueryView) Get(key string) (string, bool) {
	vals, ok := v.values[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (v *QueryView) GetAll(key string) []string { return append([]string(nil), v.values[key]...) }

func (v *QueryView) Set(key string, val any) {
	v.values.Set(key, coerce(val))
	v.sync()
}

func (v *QueryView) Append(key string, val any) {
	v.values.Add(key, coerce(val))
	v.sync()
}

func (v *QueryView) Delete(key string) {
	v.values.Del(key)
	v.sync()
}

func (v *QueryView) Has(key string) bool { _, ok := v.values[key]; return ok }

func (v *QueryView) Clear() {
	for k := range v.values {
		delete(v.values, k)
	}
	v.sync()
}

func (v *QueryView) Sort() {
	// url.Values keeps no key order of its own, and ToString
	// (url.Values.Encode) already emits keys sorted, so Sort changes
	// nothing. Entries is not sorted.
}

func (v *QueryView) ToString() string { return v.values.Encode() }

func (v *QueryView) Entries() [][2]string {
	out := make([][2]string, 0, len(v.values))
	for k, vals := range v.values {
		for _, val := range vals {
			out = append(out, [2]string{k, val})
		}
	}
	return out
}

// URLView exposes *url.URL with the href/scheme/username/password/
// authority/host/hostname/port/path/search/origin/searchParams contract of
// §4.7. Setters validate and return an error on malformed input.
type URLView struct {
	u     *url.URL
	query *QueryView
}

func NewURLView(u *url.URL) *URLView {
	v := &URLView{u: u}
	v.query = NewQueryView(u.Query(), func(vals url.Values) { u.RawQuery = vals.Encode() })
	return v
}

func (v *URLView) Href() string { return v.u.String() }

func (v *URLView) SetHref(s string) error {
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("script: invalid url %q: %w", s, err)
	}
	*v.u = *parsed
	v.query = NewQueryView(v.u.Query(), func(vals url.Values) { v.u.RawQuery = vals.Encode() })
	return nil
}

func (v *URLView) Scheme() string { return v.u.Scheme }

func (v *URLView) SetScheme(s string) error {
	if s != "http" && s != "https" && s != "ws" && s != "wss" {
		return fmt.Errorf("script: invalid scheme %q", s)
	}
	v.u.Scheme = s
	return nil
}

func (v *URLView) Username() string { return v.u.User.Username() }

func (v *URLView) SetUsername(s string) {
	pw, hasPw := v.u.User.Password()
	if hasPw {
		v.u.User = url.UserPassword(s, pw)
	} else {
		v.u.User = url.User(s)
	}
}

func (v *URLView) Password() string {
	pw, _ := v.u.User.Password()
	return pw
}

func (v *URLView) SetPassword(s string) {
	v.u.User = url.UserPassword(v.u.User.Username(), s)
}

func (v *URLView) Authority() string { return v.u.Host }

func (v *URLView) Host() string { return v.u.Host }

func (v *URLView) Hostname() string { return v.u.Hostname() }

func (v *URLView) Port() string { return v.u.Port() }

func (v *URLView) SetPort(s string) error {
	if s != "" {
		if n, err := strconv.Atoi(s); err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("script: invalid port %q", s)
		}
	}
	host := v.u.Hostname()
	if s == "" {
		v.u.Host = host
	} else {
		v.u.Host = host + ":" + s
	}
	return nil
}

func (v *URLView) Path() string { return v.u.Path }

func (v *URLView) SetPath(s string) { v.u.Path = s }

func (v *URLView) Search() string {
	if v.u.RawQuery == "" {
		return ""
	}
	return "?" + v.u.RawQuery
}

func (v *URLView) SetSearch(s string) {
	v.u.RawQuery = strings.TrimPrefix(s, "?")
	v.query = NewQueryView(v.u.Query(), func(vals url.Values) { v.u.RawQuery = vals.Encode() })
}

func (v *URLView) Origin() string {
	if v.u.Host == "" {
		return ""
	}
	return v.u.Scheme + "://" + v.u.Host
}

func (v *URLView) SearchParams() *QueryView { return v.query }

// RequestView binds an *InterceptedRequest. The Headers/Trailers/Body/URL
// accessors always return the same underlying view instance (never a
// snapshot), per §4.7's "read-only fields ... return the same underlying
// mutable view; replacing them wholesale via assignment raises" — Go
// methods naturally enforce this since there is no setter for these fields.
type RequestView struct {
	req      *flow.InterceptedRequest
	headers  *HeadersView
	trailers *HeadersView
	body     *BodyView
	urlView  *URLView
}

func NewRequestView(req *flow.InterceptedRequest) *RequestView {
	if req.Trailer == nil {
		req.Trailer = make(http.Header)
	}
	return &RequestView{
		req:      req,
		headers:  NewHeadersView(req.Header),
		trailers: NewHeadersView(req.Trailer),
		body:     NewBodyView(&req.Body),
		urlView:  NewURLView(req.URI),
	}
}

func (v *RequestView) Method() string { return v.req.Method }

func (v *RequestView) SetMethod(m string) error {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return fmt.Errorf("script: empty method")
	}
	for _, r := range m {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("script: invalid method %q", m)
		}
	}
	v.req.Method = m
	return nil
}

func (v *RequestView) Version() string { return v.req.HTTPVersion }

func (v *RequestView) SetVersion(s string) error {
	if err := validateHTTPVersion(s); err != nil {
		return err
	}
	v.req.HTTPVersion = s
	return nil
}

func (v *RequestView) URL() *URLView         { return v.urlView }
func (v *RequestView) Headers() *HeadersView { return v.headers }
func (v *RequestView) Trailers() *HeadersView { return v.trailers }
func (v *RequestView) Body() *BodyView       { return v.body }

// ResponseView mirrors RequestView for *InterceptedResponse.
type ResponseView struct {
	resp     *flow.InterceptedResponse
	headers  *HeadersView
	trailers *HeadersView
	body     *BodyView
}

func NewResponseView(resp *flow.InterceptedResponse) *ResponseView {
	if resp.Trailer == nil {
		resp.Trailer = make(http.Header)
	}
	return &ResponseView{
		resp:     resp,
		headers:  NewHeadersView(resp.Header),
		trailers: NewHeadersView(resp.Trailer),
		body:     NewBodyView(&resp.Body),
	}
}

func (v *ResponseView) Status() int { return v.resp.Status }

func (v *ResponseView) SetStatus(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("script: invalid status %d", code)
	}
	v.resp.Status = code
	return nil
}

func (v *ResponseView) Version() string { return v.resp.HTTPVersion }

func (v *ResponseView) SetVersion(s string) error {
	if err := validateHTTPVersion(s); err != nil {
		return err
	}
	v.resp.HTTPVersion = s
	return nil
}

func (v *ResponseView) Headers() *HeadersView { return v.headers }
func (v *ResponseView) Trailers() *HeadersView { return v.trailers }
func (v *ResponseView) Body() *BodyView       { return v.body }

// validateHTTPVersion enforces the strict "HTTP/<n>.<n>" grammar §9 asks
// for explicitly, rather than accepting anything net/http would tolerate.
func validateHTTPVersion(s string) error {
	if !httpVersionRE.MatchString(s) {
		return fmt.Errorf("script: invalid http version %q", s)
	}
	return nil
}

// FlowView is the top-level "flow" global hooks receive: flow.request and
// flow.response.
type FlowView struct {
	Request  *RequestView
	Response *ResponseView
}

func NewFlowView(f *flow.Flow) *FlowView {
	fv := &FlowView{}
	if f.Request != nil {
		fv.Request = NewRequestView(f.Request)
	}
	if f.Response == nil {
		f.Response = &flow.InterceptedResponse{Header: make(http.Header)}
	}
	fv.Response = NewResponseView(f.Response)
	return fv
}
