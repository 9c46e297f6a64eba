package proxy

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMatchHost(t *testing.T) {
	c := qt.New(t)

	c.Assert(matchHost("www.baidu.com:443", []string{
		"www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsTrue)

	c.Assert(matchHost("www.google.com:80", []string{
		"www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsTrue)

	c.Assert(matchHost("www.test.com:80", []string{
		"www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsFalse)

	c.Assert(matchHost("test.baidu.com:443", []string{
		"*.baidu.com", "www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsTrue)

	c.Assert(matchHost("test.baidu.com:443", []string{
		"*.baidu.com:443", "www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsTrue)

	c.Assert(matchHost("test.baidu.com:80", []string{
		"*.baidu.com:443", "www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsFalse)

	c.Assert(matchHost("test.google.com:80", []string{
		"*.baidu.com", "www.baidu.com:443", "www.baidu.com", "www.google.com",
	}), qt.IsFalse)
}
