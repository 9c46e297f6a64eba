package helper

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/roxyproxy/roxy/roxyerr"
)

// GetProxyConn dials address through proxyURL (a "socks5://", "http://" or
// "https://" upstream proxy) and, for the https case, layers TLS over the
// proxy leg using tlsConfig — the same *tls.Config shape proxy/upstream.go
// builds for origin dials (InsecureSkipVerify + SSLKEYLOGFILE support via
// GetTLSKeyLogWriter), so an HTTPS-fronted upstream proxy gets the same key
// logging as a direct origin connection.
func GetProxyConn(ctx context.Context, proxyURL *url.URL, address string, tlsConfig *tls.Config) (net.Conn, error) {
	const op = "helper.GetProxyConn"

	var conn net.Conn
	if proxyURL.Scheme == "socks5" {
		proxyAuth := &proxy.Auth{}
		if proxyURL.User != nil {
			user := proxyURL.User.Username()
			pass, _ := proxyURL.User.Password()
			proxyAuth.User = user
			proxyAuth.Password = pass
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if err != nil {
			return nil, roxyerr.New(roxyerr.KindProxyConnect, op, err)
		}
		dc, ok := dialer.(interface {
			DialContext(ctx context.Context, network, addr string) (net.Conn, error)
		})
		if !ok {
			return nil, roxyerr.New(roxyerr.KindProxyConnect, op, errors.New("socks5 dialer does not support DialContext"))
		}
		conn, err = dc.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, roxyerr.New(roxyerr.KindProxyConnect, op, err)
		}
		return conn, nil
	}

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, roxyerr.New(roxyerr.KindProxyConnect, op, err)
	}
	if proxyURL.Scheme == "https" {
		cfg := tlsConfig.Clone()
		cfg.ServerName = proxyURL.Hostname()
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, roxyerr.New(roxyerr.KindTLS, op, err)
		}
		conn = tlsConn
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: http.Header{},
	}
	if proxyURL.User != nil {
		connectReq.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(proxyURL.User.String())))
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	didReadResponse := make(chan struct{}) // closed after CONNECT write+read is done or fails
	var resp *http.Response
	go func() {
		defer close(didReadResponse)
		err = connectReq.Write(conn)
		if err != nil {
			return
		}
		// Okay to use and discard buffered reader here, because the far
		// side won't speak until spoken to.
		br := bufio.NewReader(conn)
		resp, err = http.ReadResponse(br, connectReq)
	}()
	select {
	case <-connectCtx.Done():
		conn.Close()
		<-didReadResponse
		return nil, roxyerr.New(roxyerr.KindTimeout, op, connectCtx.Err())
	case <-didReadResponse:
		// resp or err now set
	}
	if err != nil {
		conn.Close()
		return nil, roxyerr.New(roxyerr.KindProxyConnect, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, text, ok := strings.Cut(resp.Status, " ")
		conn.Close()
		if !ok {
			text = resp.Status
		}
		return nil, roxyerr.New(roxyerr.KindProxyConnect, op, errors.New(text))
	}
	return conn, nil
}
