// Package lua implements the dynamic-language engine flavor of the script
// runtime (§4.7) using a pure-Go Lua interpreter — the closest Go-native
// analogue of the original's embedded mlua engine
// (original_source/proxy/src/interceptor/lua).
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/script"
)

// Engine is a script.Engine backed by gopher-lua. Each Engine owns exactly
// one *lua.LState, recreated on every Load so a hot reload starts from a
// clean interpreter state (§4.7: "Each reload creates a fresh interpreter
// state").
type Engine struct {
	notify func(script.Notification)

	ls         *lua.LState
	extensions []extensionFuncs
}

type extensionFuncs struct {
	name     string
	request  *lua.LFunction
	response *lua.LFunction
}

// New creates a Lua engine that routes Roxy.notify calls to onNotify.
func New(onNotify func(script.Notification)) *Engine {
	return &Engine{notify: onNotify}
}

func (e *Engine) Close() {
	if e.ls != nil {
		e.ls.Close()
	}
}

// Load evaluates source in a fresh Lua state, registers host bindings, and
// captures the Extensions list it defines.
func (e *Engine) Load(source []byte) error {
	if e.ls != nil {
		e.ls.Close()
	}
	ls := lua.NewState(lua.Options{SkipOpenLibs: false})
	e.registerRoxy(ls)

	if err := ls.DoString(string(source)); err != nil {
		ls.Close()
		return fmt.Errorf("script/lua: load: %w", err)
	}

	extTable, ok := ls.GetGlobal("Extensions").(*lua.LTable)
	if !ok {
		ls.Close()
		return fmt.Errorf("script/lua: script must define a global Extensions table")
	}

	var exts []extensionFuncs
	extTable.ForEach(func(_, v lua.LValue) {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		ef := extensionFuncs{name: addonName(tbl)}
		if fn, ok := lookupFunc(tbl, "request", 1); ok {
			ef.request = fn
		}
		if fn, ok := lookupFunc(tbl, "response", 2); ok {
			ef.response = fn
		}
		exts = append(exts, ef)
	})

	e.ls = ls
	e.extensions = exts
	return nil
}

func addonName(tbl *lua.LTable) string {
	if s, ok := tbl.RawGetString("name").(lua.LString); ok {
		return string(s)
	}
	return "addon"
}

// lookupFunc finds a hook either by field name or, per §4.7 ("hooks may
// also be provided positionally as the first/second element of the addon
// object"), by its 1-based positional index in the table.
func lookupFunc(tbl *lua.LTable, field string, pos int) (*lua.LFunction, bool) {
	if fn, ok := tbl.RawGetString(field).(*lua.LFunction); ok {
		return fn, true
	}
	if fn, ok := tbl.RawGetInt(pos).(*lua.LFunction); ok {
		return fn, true
	}
	return nil, false
}

func (e *Engine) registerRoxy(ls *lua.LState) {
	roxy := ls.NewTable()
	ls.SetField(roxy, "notify", ls.NewFunction(func(L *lua.LState) int {
		level := L.CheckInt(1)
		msg := L.CheckString(2)
		if e.notify != nil {
			e.notify(script.Notification{Level: script.Level(level), Msg: msg})
		}
		return 0
	}))
	ls.SetGlobal("Roxy", roxy)
}

func (e *Engine) InterceptRequest(ctx context.Context, f *flow.Flow) error {
	return e.walk(f, func(ef extensionFuncs) *lua.LFunction { return ef.request }, "request")
}

func (e *Engine) InterceptResponse(ctx context.Context, f *flow.Flow) error {
	return e.walk(f, func(ef extensionFuncs) *lua.LFunction { return ef.response }, "response")
}

func (e *Engine) walk(f *flow.Flow, pick func(extensionFuncs) *lua.LFunction, hookName string) error {
	if e.ls == nil {
		return fmt.Errorf("script/lua: no script loaded")
	}
	fv := script.NewFlowView(f)
	flowLV := newFlowTable(e.ls, fv)

	for _, ef := range e.extensions {
		fn := pick(ef)
		if fn == nil {
			continue
		}
		if err := e.ls.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, flowLV); err != nil {
			herr := &script.HookError{Addon: ef.name, Hook: hookName, Err: err}
			if e.notify != nil {
				e.notify(script.Notification{Level: script.LevelError, Msg: herr.Error()})
			}
		}
	}
	return nil
}
