package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Options controls self-signed certificate generation.
type Options struct {
	// CommonName is the certificate subject common name.
	// Defaults to "uniwire" when empty.
	CommonName string

	// DNSNames lists DNS subject alternative names.
	DNSNames []string

	// IPAddresses lists IP subject alternative names.
	IPAddresses []net.IP

	// Validity is the certificate lifetime. Defaults to DefaultValidity.
	Validity time.Duration
}

// GenerateKeyPair generates a new ECDSA P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// ComputeSKI computes the Subject Key Identifier for a public key
// (SHA-1 of the SubjectPublicKeyInfo, per RFC 5280).
func ComputeSKI(pub *ecdsa.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha1.Sum(spki)
	return sum[:], nil
}

// GenerateSelfSigned generates a new self-signed TLS identity. When no
// subject alternative names are given the certificate covers localhost
// and the loopback addresses.
func GenerateSelfSigned(opts Options) (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if opts.CommonName == "" {
		opts.CommonName = "uniwire"
	}
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	if len(opts.DNSNames) == 0 && len(opts.IPAddresses) == 0 {
		opts.DNSNames = []string{"localhost"}
		opts.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	ski, err := ComputeSKI(kp.PublicKey)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// NotBefore is backdated slightly to tolerate clock skew between
	// peers during tests and fresh deployments.
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: opts.CommonName,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPAddresses,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return &Identity{
		Certificate: certificate,
		PrivateKey:  kp.PrivateKey,
	}, nil
}
