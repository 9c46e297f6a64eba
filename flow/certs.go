package flow

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

// ClientHello is the subset of the downstream ClientHello worth capturing
// for observation (§4.2: "records into the flow even if no client cert is
// required").
type ClientHello struct {
	ServerName        string
	SupportedProtos   []string
	SupportedVersions []uint16
	CipherSuites      []uint16
}

// TLSParams captures the negotiated parameters of a completed handshake
// (§4.2: "TLS protocol version, cipher suite, SNI, negotiated ALPN,
// key-exchange group").
type TLSParams struct {
	Version           uint16
	CipherSuite       uint16
	ServerName        string
	NegotiatedProto   string
	KeyExchangeGroup  tls.CurveID
	NegotiatedVersion string
}

// VerificationResult is a shadow of a single chain-verification attempt: the
// delegating verifier records its inputs and result but never changes the
// outcome (§4.2 invariant: "capture is observability, not bypass").
type VerificationResult struct {
	Chain      []*x509.Certificate
	ServerName string
	OCSPResp   []byte
	At         time.Time
	Err        error
}

// SignatureVerification records one TLS 1.2/1.3 digitally-signed-struct
// check performed during a handshake (§4.2).
type SignatureVerification struct {
	Message              []byte
	Cert                 *x509.Certificate
	DigitallySignedProof []byte
	Err                  error
}

// Certs is the TLS observation attached to a Flow (§3 FlowCerts). The
// client-side fields describe the proxy acting as TLS server to the real
// client; the server-side fields describe the proxy acting as TLS client
// to the true origin. Either side, or both, may be populated — they are
// never cross-wired.
type Certs struct {
	ClientHello         *ClientHello
	ClientVerification  *VerificationResult
	ClientTLS           *TLSParams
	ServerResolvedCert  *x509.Certificate
	ServerVerification  *VerificationResult
	ServerTLS           *TLSParams
	SignatureChecks     []SignatureVerification
}
