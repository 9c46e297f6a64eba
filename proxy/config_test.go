package proxy

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestConfigDialTimeoutDefault(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{}
	c.Assert(cfg.dialTimeout(), qt.Equals, 10*time.Second)
}

func TestConfigDialTimeoutOverride(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{DialTimeout: 2 * time.Second}
	c.Assert(cfg.dialTimeout(), qt.Equals, 2*time.Second)
}
