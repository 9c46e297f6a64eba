// Package js implements the JS engine flavor of the script runtime (§4.7)
// using goja, a pure-Go ECMAScript interpreter — chosen because it is the
// only engine in the pack's ecosystem that needs no cgo, matching this
// module's "never fabricate dependencies" rule.
package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/script"
)

// Engine is a script.Engine backed by goja. Each Load creates a fresh
// *goja.Runtime, mirroring the Lua flavor's "fresh interpreter state per
// reload" (§4.7).
type Engine struct {
	notify func(script.Notification)

	vm         *goja.Runtime
	extensions []extension
}

type extension struct {
	name     string
	request  goja.Callable
	response goja.Callable
}

// New creates a JS engine that routes Roxy.notify calls to onNotify.
func New(onNotify func(script.Notification)) *Engine {
	return &Engine{notify: onNotify}
}

func (e *Engine) Close() {}

func (e *Engine) Load(source []byte) error {
	vm := goja.New()
	roxy := vm.NewObject()
	_ = roxy.Set("notify", func(level int, msg string) {
		if e.notify != nil {
			e.notify(script.Notification{Level: script.Level(level), Msg: msg})
		}
	})
	if err := vm.Set("Roxy", roxy); err != nil {
		return fmt.Errorf("script/js: registering Roxy: %w", err)
	}
	if err := loadPrelude(vm); err != nil {
		return fmt.Errorf("script/js: loading prelude: %w", err)
	}

	if _, err := vm.RunString(string(source)); err != nil {
		return fmt.Errorf("script/js: load: %w", err)
	}

	extVal := vm.Get("Extensions")
	if extVal == nil || goja.IsUndefined(extVal) {
		return fmt.Errorf("script/js: script must define a global Extensions array")
	}
	arr, ok := extVal.Export().([]any)
	if !ok {
		return fmt.Errorf("script/js: Extensions must be an array")
	}

	var exts []extension
	rawExts := extVal.ToObject(vm)
	for i := range arr {
		item := rawExts.Get(fmt.Sprintf("%d", i))
		if item == nil || goja.IsUndefined(item) {
			continue
		}
		obj := item.ToObject(vm)
		ex := extension{name: addonName(vm, obj)}
		if fn, ok := lookupCallable(vm, obj, "request", "0"); ok {
			ex.request = fn
		}
		if fn, ok := lookupCallable(vm, obj, "response", "1"); ok {
			ex.response = fn
		}
		exts = append(exts, ex)
	}

	e.vm = vm
	e.extensions = exts
	return nil
}

func addonName(vm *goja.Runtime, obj *goja.Object) string {
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		return v.String()
	}
	return "addon"
}

// lookupCallable finds a hook either by its field name or, per §4.7, by its
// positional index in the addon object (JS arrays/objects alike expose
// numeric keys).
func lookupCallable(vm *goja.Runtime, obj *goja.Object, field, posKey string) (goja.Callable, bool) {
	if v := obj.Get(field); v != nil && !goja.IsUndefined(v) {
		if fn, ok := goja.AssertFunction(v); ok {
			return fn, true
		}
	}
	if v := obj.Get(posKey); v != nil && !goja.IsUndefined(v) {
		if fn, ok := goja.AssertFunction(v); ok {
			return fn, true
		}
	}
	return nil, false
}

func (e *Engine) InterceptRequest(ctx context.Context, f *flow.Flow) error {
	return e.walk(f, func(x extension) goja.Callable { return x.request }, "request")
}

func (e *Engine) InterceptResponse(ctx context.Context, f *flow.Flow) error {
	return e.walk(f, func(x extension) goja.Callable { return x.response }, "response")
}

func (e *Engine) walk(f *flow.Flow, pick func(extension) goja.Callable, hookName string) error {
	if e.vm == nil {
		return fmt.Errorf("script/js: no script loaded")
	}
	fv := script.NewFlowView(f)
	flowObj := newFlowObject(e.vm, fv)

	for _, ex := range e.extensions {
		fn := pick(ex)
		if fn == nil {
			continue
		}
		if _, err := fn(goja.Undefined(), flowObj); err != nil {
			herr := &script.HookError{Addon: ex.name, Hook: hookName, Err: err}
			if e.notify != nil {
				e.notify(script.Notification{Level: script.LevelError, Msg: herr.Error()})
			}
		}
	}
	return nil
}
