// Package httpapi exposes the station's local API over TLS with certificate
// fingerprint pinning: the station and its clients each hold a self-signed
// certificate and trust each other by sha256 fingerprint instead of a CA.
package httpapi

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Fingerprint returns the sha256 fingerprint of a DER-encoded x509
// certificate, matching the fingerprint returned by EnsureCertificate.
func Fingerprint(cert []byte) string {
	sum := sha256.Sum256(cert)
	return hex.EncodeToString(sum[:])
}

// EnsureCertificate loads the station's TLS certificate from dir, generating
// a self-signed one on first use. The fingerprint file is rewritten if
// missing so operators can always read it off the station.
func EnsureCertificate(dir string) (tls.Certificate, string, error) {
	dir = filepath.Join(dir, "tls")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tls.Certificate{}, "", err
	}

	var (
		certFile        = filepath.Join(dir, "cert.pem")
		keyFile         = filepath.Join(dir, "cert-private-key.pem")
		fingerprintFile = filepath.Join(dir, "cert-fingerprint.txt")
	)

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		certPem, keyPem, err := selfSignedCert()
		if err != nil {
			return tls.Certificate{}, "", err
		}
		if err := os.WriteFile(certFile, certPem, 0644); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing cert: %w", err)
		}
		if err := os.WriteFile(keyFile, keyPem, 0600); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing key: %w", err)
		}
		if cert, err = tls.LoadX509KeyPair(certFile, keyFile); err != nil {
			return tls.Certificate{}, "", err
		}
	}

	cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, "", err
	}

	fingerprint := Fingerprint(cert.Leaf.Raw)
	if onDisk, err := os.ReadFile(fingerprintFile); err != nil || string(onDisk) != fingerprint {
		if err := os.WriteFile(fingerprintFile, []byte(fingerprint), 0644); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing fingerprint: %w", err)
		}
	}
	return cert, fingerprint, nil
}

func selfSignedCert() ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "stationd"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour * 24 * 3650),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDer, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPem := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDer})
	return certPem, keyPem, nil
}
