// Package encoding implements the content-encoding codec chain used to
// decode request/response bodies on ingest and re-encode them before they
// go back on the wire (§3, §8 roundtrip law: decode(encode(body, E), E) ==
// body for every supported chain E).
//
// Grounded on denisvmedia/go-mitmproxy's addon/decoder.go ("decode content-encoding then
// respond to client") and original_source/shared/src/content.rs, which
// decodes a chain innermost-first (reverse header order) and encodes
// outermost-first (header order) — generalized here from flate2/brotli/zstd
// crates to their Go equivalents.
package encoding

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Name is a supported content-encoding token.
type Name string

const (
	Gzip    Name = "gzip"
	Deflate Name = "deflate"
	Brotli  Name = "br"
	Zstd    Name = "zstd"
)

// ParseChain splits a "Content-Encoding: gzip, br" header value into its
// ordered chain, outer→inner, preserving unknown tokens verbatim so callers
// can decide whether to give up decoding.
func ParseChain(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FormatChain renders a chain back into a Content-Encoding header value.
func FormatChain(chain []string) string {
	return strings.Join(chain, ", ")
}

func known(n string) bool {
	switch Name(n) {
	case Gzip, Deflate, Brotli, Zstd:
		return true
	default:
		return false
	}
}

// AllKnown reports whether every entry in chain is a decodable encoding.
func AllKnown(chain []string) bool {
	for _, n := range chain {
		if !known(n) {
			return false
		}
	}
	return true
}

// Decode applies chain innermost-first (i.e. iterates the header's
// outer→inner order in reverse) to recover the identity payload. If any
// encoding in the chain is unsupported or fails to decode, it returns the
// original body unchanged and a non-nil error; what becomes of the chain is
// left to the caller.
func Decode(body []byte, chain []string) ([]byte, error) {
	if len(chain) == 0 {
		return body, nil
	}
	cur := body
	for i := len(chain) - 1; i >= 0; i-- {
		dec, err := decodeOne(Name(chain[i]), cur)
		if err != nil {
			return body, fmt.Errorf("encoding: decode %q: %w", chain[i], err)
		}
		cur = dec
	}
	return cur, nil
}

// Encode applies chain outer-first (the same order the header lists it) to
// turn an identity payload back into wire bytes.
func Encode(body []byte, chain []string) ([]byte, error) {
	if len(chain) == 0 {
		return body, nil
	}
	cur := body
	for _, name := range chain {
		enc, err := encodeOne(Name(name), cur)
		if err != nil {
			return nil, fmt.Errorf("encoding: encode %q: %w", name, err)
		}
		cur = enc
	}
	return cur, nil
}

func decodeOne(name Name, body []byte) ([]byte, error) {
	switch name {
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case Zstd:
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", name)
	}
}

func encodeOne(name Name, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch name {
	case Gzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Deflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Brotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Zstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", name)
	}
	return buf.Bytes(), nil
}
