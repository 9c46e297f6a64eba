package web_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/roxyproxy/roxy/flow"
	"github.com/roxyproxy/roxy/web"
)

func TestNewWebAddonCreatesAddon(t *testing.T) {
	c := qt.New(t)

	addon := web.NewWebAddon(":0", flow.NewStore())

	c.Assert(addon, qt.IsNotNil)
}
