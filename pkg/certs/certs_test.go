package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedPEM builds a throwaway self-signed certificate, standing in
// for what an ACME CA would otherwise return, so toCertificate/write can
// be exercised without any network access.
func selfSignedPEM(t *testing.T, cn string, notBefore, notAfter time.Time) ([]byte, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		Issuer:       pkix.Name{CommonName: "test-ca"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}

func TestToCertificateParsesPEM(t *testing.T) {
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := notBefore.Add(90 * 24 * time.Hour)
	certPEM, keyPEM := selfSignedPEM(t, "app.acme.example.com", notBefore, notAfter)

	cert, err := toCertificate("app.acme.example.com", certPEM, keyPEM)
	require.NoError(t, err)

	assert.Equal(t, "app.acme.example.com", cert.FQDN)
	assert.Equal(t, "test-ca", cert.Issuer)
	assert.True(t, cert.NotBefore.Equal(notBefore))
	assert.True(t, cert.NotAfter.Equal(notAfter))
	assert.Equal(t, keyPEM, cert.KeyPEM)
}

func TestToCertificateRejectsInvalidPEM(t *testing.T) {
	_, err := toCertificate("app.acme.example.com", []byte("not pem"), nil)
	assert.Error(t, err)
}

func TestWritePersistsCertAndKeyUnderFQDNDir(t *testing.T) {
	base := t.TempDir()
	certPEM, keyPEM := selfSignedPEM(t, "api.acme.example.com", time.Now(), time.Now().Add(time.Hour))

	issuer := &ACMEIssuer{baseDir: base}
	cert := &Certificate{FQDN: "api.acme.example.com", CertPEM: certPEM, KeyPEM: keyPEM}

	require.NoError(t, issuer.write(cert))

	dir := filepath.Join(base, "api.acme.example.com")
	gotCert, err := os.ReadFile(filepath.Join(dir, "fullchain.pem"))
	require.NoError(t, err)
	assert.Equal(t, certPEM, gotCert)

	gotKey, err := os.ReadFile(filepath.Join(dir, "privkey.pem"))
	require.NoError(t, err)
	assert.Equal(t, keyPEM, gotKey)
}

func TestIssueRejectsDNS01(t *testing.T) {
	issuer := &ACMEIssuer{baseDir: t.TempDir()}
	_, err := issuer.Issue(context.Background(), "app.acme.example.com", ChallengeDNS01)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dns01")
}
