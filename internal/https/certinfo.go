package https

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoCertificate = errors.New("no certificate in PEM data")
	ErrExpired       = errors.New("certificate expired")
	ErrNameMismatch  = errors.New("certificate does not cover subject")
	ErrRenewalDue    = errors.New("certificate inside renewal window")
)

// ParseLeaf decodes the first certificate of a PEM bundle.
func ParseLeaf(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		return x509.ParseCertificate(block.Bytes)
	}
}

// CertMatchesDomain checks CN and SANs, including a single-label wildcard.
func CertMatchesDomain(cert *x509.Certificate, domain string) bool {
	domain = strings.ToLower(domain)
	names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
	for _, n := range names {
		n = strings.ToLower(n)
		if n == domain {
			return true
		}
		if strings.HasPrefix(n, "*.") {
			if i := strings.IndexByte(domain, '.'); i > 0 && domain[i+1:] == n[2:] {
				return true
			}
		}
	}
	return false
}

// CheckValidity returns nil when the bundle can be kept as is.
func CheckValidity(data []byte, subject string, renewBefore time.Duration, now time.Time) error {
	cert, err := ParseLeaf(data)
	if err != nil {
		return err
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w at %s", ErrExpired, cert.NotAfter.Format(time.RFC3339))
	}
	if !CertMatchesDomain(cert, subject) {
		return fmt.Errorf("%w: cert=%v", ErrNameMismatch, cert.DNSNames)
	}
	if cert.NotAfter.Sub(now) < renewBefore {
		return fmt.Errorf("%w: expires in %d days", ErrRenewalDue, int(cert.NotAfter.Sub(now).Hours()/24))
	}
	return nil
}
