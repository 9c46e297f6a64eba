package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/roxyproxy/roxy/script"
)

// object is the Lua-side shape of every view in the object graph: a
// userdata-free table whose metatable's __index/__newindex dispatch to Go
// closures, giving scripts "request.method = 'POST'"-style property syntax
// over Go getter/setter pairs, plus method calls like
// "headers:get('X-Foo')" for the verb-shaped operations §4.7 describes.
type object struct {
	props    map[string]func(L *lua.LState) lua.LValue
	setProps map[string]func(L *lua.LState, v lua.LValue) error
	methods  map[string]lua.LGFunction
	index    func(L *lua.LState, key string) (lua.LValue, bool) // bracket fallback, e.g. query params
	newindex func(L *lua.LState, key string, v lua.LValue) bool
}

func newObjectTable(ls *lua.LState, o *object) *lua.LTable {
	tbl := ls.NewTable()
	mt := ls.NewTable()

	ls.SetField(mt, "__index", ls.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if fn, ok := o.methods[key]; ok {
			L.Push(L.NewFunction(fn))
			return 1
		}
		if get, ok := o.props[key]; ok {
			L.Push(get(L))
			return 1
		}
		if o.index != nil {
			if v, ok := o.index(L, key); ok {
				L.Push(v)
				return 1
			}
		}
		L.Push(lua.LNil)
		return 1
	}))

	ls.SetField(mt, "__newindex", ls.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		val := L.Get(3)
		if set, ok := o.setProps[key]; ok {
			if err := set(L, val); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		}
		if o.newindex != nil && o.newindex(L, key, val) {
			return 0
		}
		L.RaiseError("script/lua: field %q is read-only", key)
		return 0
	}))

	ls.SetMetatable(tbl, mt)
	return tbl
}

func luaString(s string) lua.LValue { return lua.LString(s) }

func checkString(L *lua.LState, v lua.LValue) (string, error) {
	s, ok := v.(lua.LString)
	if !ok {
		return "", fmt.Errorf("script/lua: expected string, got %s", v.Type().String())
	}
	return string(s), nil
}

func newHeadersTable(ls *lua.LState, hv *script.HeadersView) *lua.LTable {
	return newObjectTable(ls, &object{
		methods: map[string]lua.LGFunction{
			"get": func(L *lua.LState) int {
				v, ok := hv.Get(L.CheckString(2))
				if !ok {
					L.Push(lua.LNil)
					return 1
				}
				L.Push(luaString(v))
				return 1
			},
			"getAll": func(L *lua.LState) int {
				vals := hv.GetAll(L.CheckString(2))
				tbl := L.NewTable()
				for i, v := range vals {
					tbl.RawSetInt(i+1, luaString(v))
				}
				L.Push(tbl)
				return 1
			},
			"set": func(L *lua.LState) int {
				if err := hv.Set(L.CheckString(2), L.CheckString(3)); err != nil {
					L.RaiseError("%s", err.Error())
				}
				return 0
			},
			"append": func(L *lua.LState) int {
				if err := hv.Append(L.CheckString(2), L.CheckString(3)); err != nil {
					L.RaiseError("%s", err.Error())
				}
				return 0
			},
			"delete": func(L *lua.LState) int {
				hv.Delete(L.CheckString(2))
				return 0
			},
			"has": func(L *lua.LState) int {
				L.Push(lua.LBool(hv.Has(L.CheckString(2))))
				return 1
			},
		},
		index: func(L *lua.LState, key string) (lua.LValue, bool) {
			v, ok := hv.Get(key)
			if !ok {
				return lua.LNil, false
			}
			return luaString(v), true
		},
		newindex: func(L *lua.LState, key string, v lua.LValue) bool {
			if v == lua.LNil {
				hv.Delete(key)
				return true
			}
			s, err := checkString(L, v)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return true
			}
			if err := hv.Set(key, s); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return true
		},
	})
}

func newBodyTable(ls *lua.LState, bv *script.BodyView) *lua.LTable {
	return newObjectTable(ls, &object{
		props: map[string]func(L *lua.LState) lua.LValue{
			"text":     func(L *lua.LState) lua.LValue { return luaString(bv.Text()) },
			"raw":      func(L *lua.LState) lua.LValue { return luaString(string(bv.Raw())) },
			"length":   func(L *lua.LState) lua.LValue { return lua.LNumber(bv.Length()) },
			"is_empty": func(L *lua.LState) lua.LValue { return lua.LBool(bv.IsEmpty()) },
		},
		setProps: map[string]func(L *lua.LState, v lua.LValue) error{
			"text": func(L *lua.LState, v lua.LValue) error {
				s, err := checkString(L, v)
				if err != nil {
					return err
				}
				bv.SetText(s)
				return nil
			},
			"raw": func(L *lua.LState, v lua.LValue) error {
				s, err := checkString(L, v)
				if err != nil {
					return err
				}
				bv.SetRaw([]byte(s))
				return nil
			},
		},
		methods: map[string]lua.LGFunction{
			"clear": func(L *lua.LState) int { bv.Clear(); return 0 },
			"get_text": func(L *lua.LState) int {
				L.Push(luaString(bv.Text()))
				return 1
			},
			"set_text": func(L *lua.LState) int {
				bv.SetText(L.CheckString(2))
				return 0
			},
			"get_raw": func(L *lua.LState) int {
				L.Push(luaString(string(bv.Raw())))
				return 1
			},
			"set_raw": func(L *lua.LState) int {
				bv.SetRaw([]byte(L.CheckString(2)))
				return 0
			},
		},
	})
}

func newQueryTable(ls *lua.LState, qv *script.QueryView) *lua.LTable {
	return newObjectTable(ls, &object{
		methods: map[string]lua.LGFunction{
			"get": func(L *lua.LState) int {
				v, ok := qv.Get(L.CheckString(2))
				if !ok {
					L.Push(lua.LNil)
					return 1
				}
				L.Push(luaString(v))
				return 1
			},
			"getAll": func(L *lua.LState) int {
				vals := qv.GetAll(L.CheckString(2))
				tbl := L.NewTable()
				for i, v := range vals {
					tbl.RawSetInt(i+1, luaString(v))
				}
				L.Push(tbl)
				return 1
			},
			"set":    func(L *lua.LState) int { qv.Set(L.CheckString(2), L.Get(3)); return 0 },
			"append": func(L *lua.LState) int { qv.Append(L.CheckString(2), L.Get(3)); return 0 },
			"delete": func(L *lua.LState) int { qv.Delete(L.CheckString(2)); return 0 },
			"has":    func(L *lua.LState) int { L.Push(lua.LBool(qv.Has(L.CheckString(2)))); return 1 },
			"clear":  func(L *lua.LState) int { qv.Clear(); return 0 },
			"sort":   func(L *lua.LState) int { qv.Sort(); return 0 },
			"toString": func(L *lua.LState) int {
				L.Push(luaString(qv.ToString()))
				return 1
			},
		},
		index: func(L *lua.LState, key string) (lua.LValue, bool) {
			v, ok := qv.Get(key)
			if !ok {
				return lua.LNil, false
			}
			return luaString(v), true
		},
		newindex: func(L *lua.LState, key string, v lua.LValue) bool {
			qv.Set(key, luaToGo(v))
			return true
		},
	})
}

func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case lua.LBool:
		return bool(t)
	default:
		return v.String()
	}
}

func newURLTable(ls *lua.LState, uv *script.URLView) *lua.LTable {
	return newObjectTable(ls, &object{
		props: map[string]func(L *lua.LState) lua.LValue{
			"href":         func(L *lua.LState) lua.LValue { return luaString(uv.Href()) },
			"scheme":       func(L *lua.LState) lua.LValue { return luaString(uv.Scheme()) },
			"username":     func(L *lua.LState) lua.LValue { return luaString(uv.Username()) },
			"password":     func(L *lua.LState) lua.LValue { return luaString(uv.Password()) },
			"authority":    func(L *lua.LState) lua.LValue { return luaString(uv.Authority()) },
			"host":         func(L *lua.LState) lua.LValue { return luaString(uv.Host()) },
			"hostname":     func(L *lua.LState) lua.LValue { return luaString(uv.Hostname()) },
			"port":         func(L *lua.LState) lua.LValue { return luaString(uv.Port()) },
			"path":         func(L *lua.LState) lua.LValue { return luaString(uv.Path()) },
			"search":       func(L *lua.LState) lua.LValue { return luaString(uv.Search()) },
			"origin":       func(L *lua.LState) lua.LValue { return luaString(uv.Origin()) },
			"searchParams": func(L *lua.LState) lua.LValue { return newQueryTable(L, uv.SearchParams()) },
		},
		setProps: map[string]func(L *lua.LState, v lua.LValue) error{
			"href":     func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return uv.SetHref(s) },
			"scheme":   func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return uv.SetScheme(s) },
			"username": func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; uv.SetUsername(s); return nil },
			"password": func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; uv.SetPassword(s); return nil },
			"port":     func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return uv.SetPort(s) },
			"path":     func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; uv.SetPath(s); return nil },
			"search":   func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; uv.SetSearch(s); return nil },
		},
	})
}

func newRequestTable(ls *lua.LState, rv *script.RequestView) *lua.LTable {
	return newObjectTable(ls, &object{
		props: map[string]func(L *lua.LState) lua.LValue{
			"method":   func(L *lua.LState) lua.LValue { return luaString(rv.Method()) },
			"version":  func(L *lua.LState) lua.LValue { return luaString(rv.Version()) },
			"url":      func(L *lua.LState) lua.LValue { return newURLTable(L, rv.URL()) },
			"headers":  func(L *lua.LState) lua.LValue { return newHeadersTable(L, rv.Headers()) },
			"trailers": func(L *lua.LState) lua.LValue { return newHeadersTable(L, rv.Trailers()) },
			"body":     func(L *lua.LState) lua.LValue { return newBodyTable(L, rv.Body()) },
		},
		setProps: map[string]func(L *lua.LState, v lua.LValue) error{
			"method":  func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return rv.SetMethod(s) },
			"version": func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return rv.SetVersion(s) },
		},
	})
}

func newResponseTable(ls *lua.LState, rv *script.ResponseView) *lua.LTable {
	return newObjectTable(ls, &object{
		props: map[string]func(L *lua.LState) lua.LValue{
			"status":   func(L *lua.LState) lua.LValue { return lua.LNumber(rv.Status()) },
			"version":  func(L *lua.LState) lua.LValue { return luaString(rv.Version()) },
			"headers":  func(L *lua.LState) lua.LValue { return newHeadersTable(L, rv.Headers()) },
			"trailers": func(L *lua.LState) lua.LValue { return newHeadersTable(L, rv.Trailers()) },
			"body":     func(L *lua.LState) lua.LValue { return newBodyTable(L, rv.Body()) },
		},
		setProps: map[string]func(L *lua.LState, v lua.LValue) error{
			"status":  func(L *lua.LState, v lua.LValue) error {
				n, ok := v.(lua.LNumber)
				if !ok {
					return fmt.Errorf("script/lua: status must be a number")
				}
				return rv.SetStatus(int(n))
			},
			"version": func(L *lua.LState, v lua.LValue) error { s, err := checkString(L, v); if err != nil { return err }; return rv.SetVersion(s) },
		},
	})
}

func newFlowTable(ls *lua.LState, fv *script.FlowView) *lua.LTable {
	return newObjectTable(ls, &object{
		props: map[string]func(L *lua.LState) lua.LValue{
			"request": func(L *lua.LState) lua.LValue {
				if fv.Request == nil {
					return lua.LNil
				}
				return newRequestTable(L, fv.Request)
			},
			"response": func(L *lua.LState) lua.LValue {
				if fv.Response == nil {
					return lua.LNil
				}
				return newResponseTable(L, fv.Response)
			},
		},
	})
}
