// Package roxyerr defines the proxy's error taxonomy.
//
// New tags a wrapped cause with one of the kinds below and the operation
// that raised it, in the spirit of how denisvmedia/go-mitmproxy wraps dial and
// handshake failures. Callers branch on the kind with Is, or with
// errors.As to *Error.
package roxyerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on error type
// without parsing messages.
type Kind int

const (
	KindIO Kind = iota
	KindTLS
	KindHTTP
	KindURI
	KindInvalidDNSName
	KindTimeout
	KindProxyConnect
	KindBadHost
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTLS:
		return "tls"
	case KindHTTP:
		return "http"
	case KindURI:
		return "uri"
	case KindInvalidDNSName:
		return "invalid_dns_name"
	case KindTimeout:
		return "timeout"
	case KindProxyConnect:
		return "proxy_connect"
	case KindBadHost:
		return "bad_host"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by the core. It carries a Kind
// so callers can decide on response codes (§7) without string matching.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "upstream.Request"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind, op, and wrapped cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// StatusCode maps an error to the HTTP status the client should see (§7:
// "the client always receives a well-formed HTTP response... 502 Bad
// Gateway" for proxy-internal failures, 400 for malformed CONNECT/host
// mismatches).
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 502
	}
	switch e.Kind {
	case KindBadHost, KindURI:
		return 400
	default:
		return 502
	}
}
