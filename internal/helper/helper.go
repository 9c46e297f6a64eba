// Package helper holds small shared utilities used by package proxy that
// don't belong to any one protocol phase: upstream-proxy dialing (CONNECT
// through an HTTP/HTTPS/SOCKS5 proxy), TLS record sniffing, canonical
// host:port formatting, and SSLKEYLOGFILE support.
package helper

import (
	"net"
	"net/url"
)

var portMap = map[string]string{
	"http":   "80",
	"https":  "443",
	"ws":     "80",
	"wss":    "443",
	"socks5": "1080",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// IsTLS reports whether buf starts with a TLS handshake record header.
// https://github.com/mitmproxy/mitmproxy/blob/main/mitmproxy/net/tls.py is_tls_record_magic
func IsTLS(buf []byte) bool {
	if len(buf) < 3 {
		return false
	}
	return buf[0] == 0x16 && buf[1] == 0x03 && buf[2] <= 0x03
}
