package cert

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"time"

	"github.com/roxyproxy/roxy/flow"
)

// CapturingVerifier builds a tls.Config.VerifyConnection callback that
// performs the real chain verification against roots (never skipping it,
// per §4.2's "shadow verification, never bypassing the real check") while
// additionally reporting the outcome to onResult so it can be recorded on
// the flow's Certs (§3 FlowCerts.VerificationResult).
//
// Grounded on denisvmedia/go-mitmproxy's serverTLSHandshake (proxy/internal/attacker/
// attacker.go), which performs the upstream handshake itself rather than
// trusting crypto/tls's default verifier so it can observe the result.
func CapturingVerifier(roots *x509.CertPool, serverName string, onResult func(flow.VerificationResult)) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		opts := x509.VerifyOptions{
			DNSName:       serverName,
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
			CurrentTime:   time.Now(),
		}
		if len(cs.PeerCertificates) > 1 {
			for _, c := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(c)
			}
		}

		result := flow.VerificationResult{
			Chain:      cs.PeerCertificates,
			ServerName: serverName,
			At:         time.Now(),
		}
		if len(cs.PeerCertificates) == 0 {
			result.Err = errors.New("no peer certificates presented")
		} else if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
			result.Err = err
		}

		if onResult != nil {
			onResult(result)
		}
		if result.Err != nil {
			return &tls.CertificateVerificationError{
				UnverifiedCertificates: cs.PeerCertificates,
				Err:                    result.Err,
			}
		}
		return nil
	}
}
