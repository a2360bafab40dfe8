package cert

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// DefaultValidity is the validity period for generated self-signed
// certificates.
const DefaultValidity = 365 * 24 * time.Hour // 1 year

// RenewalWindow is how long before expiry to start renewal.
const RenewalWindow = 30 * 24 * time.Hour // 30 days

// KeyPair holds an ECDSA P-256 key pair.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Identity is a TLS identity for a transport endpoint: an X.509
// certificate together with its private key. Identities generated by
// this package are self-signed, for development setups and for
// deployments where peers pin each other's certificates.
type Identity struct {
	// Certificate is the X.509 certificate.
	Certificate *x509.Certificate

	// PrivateKey is the matching ECDSA private key.
	PrivateKey *ecdsa.PrivateKey
}

// TLSCertificate converts the identity to a tls.Certificate for use in
// TLS configurations.
func (id *Identity) TLSCertificate() tls.Certificate {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return tls.Certificate{}
	}
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Pool returns a certificate pool containing only this identity's
// certificate, suitable as tls.Config.RootCAs on a peer that trusts it.
func (id *Identity) Pool() *x509.CertPool {
	if id == nil || id.Certificate == nil {
		return nil
	}
	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	return pool
}

// Fingerprint returns the hex-encoded SHA-256 digest of the certificate
// in DER form, for pinning and log correlation.
func (id *Identity) Fingerprint() string {
	if id == nil || id.Certificate == nil {
		return ""
	}
	sum := sha256.Sum256(id.Certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// ExpiresAt returns when the certificate expires.
func (id *Identity) ExpiresAt() time.Time {
	if id == nil || id.Certificate == nil {
		return time.Time{}
	}
	return id.Certificate.NotAfter
}

// IsExpired returns true if the certificate has expired.
func (id *Identity) IsExpired() bool {
	if id == nil || id.Certificate == nil {
		return true
	}
	return time.Now().After(id.Certificate.NotAfter)
}

// NeedsRenewal returns true if the certificate should be renewed.
func (id *Identity) NeedsRenewal() bool {
	if id == nil || id.Certificate == nil {
		return true
	}
	return time.Now().Add(RenewalWindow).After(id.Certificate.NotAfter)
}
