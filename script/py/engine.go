// Package py is the third script engine flavor named by §4.7 ("a dynamic-
// language embedded interpreter, a JS engine, and a Python engine"). No
// pure-Go Python interpreter exists, and this module's rules forbid
// fabricating a dependency behind a fake or vendored stub, so this flavor
// is wired into configuration and engine selection like the other two but
// its constructor fails with a clear, typed error instead of silently
// behaving like an empty interpreter.
package py

import (
	"context"
	"errors"

	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/roxyerr"
	"github.com/roxyproxy/roxy/script"
)

// ErrEngineUnavailable is returned by New: no pure-Go Python runtime is
// available to this module.
var ErrEngineUnavailable = errors.New("script/py: python engine flavor requires cgo and is not available in this build")

// Engine is a placeholder satisfying script.Engine's shape so callers that
// select an engine flavor by file extension or configuration get a typed
// error rather than a missing case, but every method other than Close
// fails immediately.
type Engine struct{}

// New always fails: see ErrEngineUnavailable.
func New(func(script.Notification)) (*Engine, error) {
	return nil, roxyerr.New(roxyerr.KindScript, "script/py.New", ErrEngineUnavailable)
}

func (e *Engine) Load([]byte) error { return ErrEngineUnavailable }

func (e *Engine) InterceptRequest(context.Context, *flow.Flow) error { return ErrEngineUnavailable }

func (e *Engine) InterceptResponse(context.Context, *flow.Flow) error { return ErrEngineUnavailable }

func (e *Engine) Close() {}
