package cert

import (
	"crypto/x509"
	"testing"
)

func TestGetCertMintsLeafSignedByRoot(t *testing.T) {
	ca, err := NewSelfSignCA(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	leaf, err := ca.GetCert("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(leaf.Certificate) < 2 {
		t.Fatal("leaf chain should include the signing root")
	}

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	roots.AppendCertsFromPEM(ca.RootPEM())
	if _, err := parsed.Verify(x509.VerifyOptions{DNSName: "example.com", Roots: roots}); err != nil {
		t.Fatalf("leaf should verify against root: %v", err)
	}
}

func TestGetCertCachesByHost(t *testing.T) {
	ca, err := NewSelfSignCA(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := ca.GetCert("cached.example.com")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ca.GetCert("cached.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Certificate) == 0 || len(second.Certificate) == 0 {
		t.Fatal("expected non-empty chains")
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatal("repeated GetCert for the same host should return the cached leaf")
	}
}

func TestGetCertHandlesIPLiterals(t *testing.T) {
	ca, err := NewSelfSignCA(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ca.GetCert("127.0.0.1"); err != nil {
		t.Fatalf("minting a leaf for an IP literal should succeed: %v", err)
	}
}
