package proxy

import (
	"bufio"
	"net"
	"sync"

	"github.com/roxyproxy/roxy/internal/helper"
)

// peekConn wraps a net.Conn with a buffered reader, letting the CONNECT
// handler peek at the first bytes of a tunnel (the TLS ClientHello record
// header, or a plaintext HTTP request line) without consuming them, so the
// same bytes are still visible to whatever protocol handler is chosen next
// (§4.6 Peekable I/O).
//
// Grounded on denisvmedia/go-mitmproxy's proxy/internal/conn.WrapClientConn, trimmed to
// the one behavior this module's pipeline actually needs: buffered
// Peek+Read. The teacher's addon-notification-on-close responsibilities are
// replaced by this module's flow.Store event posting, done by the caller
// that owns the conn rather than by the wrapper itself.
type peekConn struct {
	net.Conn
	r *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

func newPeekConn(c net.Conn) *peekConn {
	return &peekConn{Conn: c, r: bufio.NewReader(c)}
}

// Peek returns the next n bytes without advancing past them.
func (c *peekConn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *peekConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.Conn.Close() })
	return c.closeErr
}

// looksLikeTLS reports whether the next bytes on c are a TLS record header
// rather than plaintext (§4.1: the post-CONNECT classification step decides
// between terminating TLS and serving the tunnel as plain HTTP/1.1). The
// actual magic-byte check is internal/helper.IsTLS, shared with whatever
// future caller needs to classify a buffer it already has in hand rather
// than one it can Peek.
func looksLikeTLS(c *peekConn) (bool, error) {
	b, err := c.Peek(3)
	if err != nil {
		return false, err
	}
	return helper.IsTLS(b), nil
}
