package encoding

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRoundtripSingle(t *testing.T) {
	c := qt.New(t)
	body := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")

	for _, chain := range [][]string{
		{"gzip"},
		{"deflate"},
		{"br"},
		{"zstd"},
	} {
		enc, err := Encode(body, chain)
		c.Assert(err, qt.IsNil, qt.Commentf("chain=%v", chain))
		dec, err := Decode(enc, chain)
		c.Assert(err, qt.IsNil, qt.Commentf("chain=%v", chain))
		c.Assert(dec, qt.DeepEquals, body, qt.Commentf("chain=%v", chain))
	}
}

func TestRoundtripComposedChains(t *testing.T) {
	c := qt.New(t)
	body := []byte("composed chain payload")

	chains := [][]string{
		{"gzip", "br"},
		{"br", "gzip"},
		{"deflate", "zstd", "gzip"},
		{"gzip", "gzip"},
	}

	for _, chain := range chains {
		enc, err := Encode(body, chain)
		c.Assert(err, qt.IsNil, qt.Commentf("chain=%v", chain))
		dec, err := Decode(enc, chain)
		c.Assert(err, qt.IsNil, qt.Commentf("chain=%v", chain))
		c.Assert(dec, qt.DeepEquals, body, qt.Commentf("chain=%v", chain))
	}
}

func TestEmptyChainIsIdentity(t *testing.T) {
	c := qt.New(t)
	body := []byte("unencoded")
	enc, err := Encode(body, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(enc, qt.DeepEquals, body)
	dec, err := Decode(body, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(dec, qt.DeepEquals, body)
}

func TestDecodeUnsupportedKeepsOriginal(t *testing.T) {
	c := qt.New(t)
	body := []byte("payload")
	dec, err := Decode(body, []string{"compress"})
	c.Assert(err, qt.IsNotNil)
	c.Assert(dec, qt.DeepEquals, body)
}

func TestParseAndFormatChain(t *testing.T) {
	c := qt.New(t)
	chain := ParseChain("gzip, br")
	c.Assert(chain, qt.DeepEquals, []string{"gzip", "br"})
	c.Assert(FormatChain(chain), qt.Equals, "gzip, br")
	c.Assert(ParseChain(""), qt.IsNil)
}

func TestAllKnown(t *testing.T) {
	c := qt.New(t)
	c.Assert(AllKnown([]string{"gzip", "br", "deflate", "zstd"}), qt.IsTrue)
	c.Assert(AllKnown([]string{"gzip", "identity"}), qt.IsFalse)
}
