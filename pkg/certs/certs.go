// Package certs is the Certificate issuer adapter (spec §6 "Certificate
// issuer capability"): issue(fqdn, challenge, creds) / renew(fqdn).
// Certificates are written under /etc/deploy/certs/{fqdn}/ on each host
// that terminates TLS for that FQDN, per the same section's on-host
// filesystem layout.
package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/cuemby/forge/pkg/forgeerr"
)

// BaseDir is where issued certificates are written, per spec §6.
const BaseDir = "/etc/deploy/certs"

// ChallengeType selects which ACME challenge issuance uses (spec §6).
type ChallengeType string

const (
	ChallengeHTTP01 ChallengeType = "http01"
	ChallengeDNS01  ChallengeType = "dns01"
)

// Certificate is the issued material this adapter returns. Issue and
// Renew also persist it to BaseDir; the returned value lets a caller
// track it (e.g. in pkg/store) without re-reading the filesystem.
type Certificate struct {
	FQDN      string
	CertPEM   []byte
	KeyPEM    []byte
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// Issuer is the capability the Deployment Engine and the CLI's
// certificate subcommands consume; ACMEIssuer is the only concrete
// implementation.
type Issuer interface {
	Issue(ctx context.Context, fqdn string, ch ChallengeType) (*Certificate, error)
	Renew(ctx context.Context, fqdn string) (*Certificate, error)
}

// acmeUser implements lego's registration.User.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ACMEIssuer is the Issuer backed by go-acme/lego's ACME v2 client. It
// supports ChallengeHTTP01 directly via lego's own http01.ProviderServer
// (answered on :80 before the sidecar cuts traffic over, per spec §6);
// ChallengeDNS01 is not implemented because the DNS/GLB capability this
// system defines (spec §6: upsert_origin_pool/upsert_record against a
// named pool) has no raw-TXT-record primitive an ACME DNS-01 responder
// needs — see DESIGN.md.
type ACMEIssuer struct {
	mu      sync.Mutex
	client  *lego.Client
	user    *acmeUser
	baseDir string
}

// Config configures the ACME account and directory endpoint.
type Config struct {
	Email    string
	CADirURL string // empty defaults to Let's Encrypt production
	BaseDir  string // empty defaults to BaseDir
}

const letsEncryptProdURL = "https://acme-v02.api.letsencrypt.org/directory"

// NewACMEIssuer generates a fresh account key, registers it with the
// ACME server, and wires the HTTP-01 challenge responder (spec §6).
func NewACMEIssuer(ctx context.Context, cfg Config) (*ACMEIssuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "generate ACME account key", err)
	}
	user := &acmeUser{email: cfg.Email, key: key}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = cfg.CADirURL
	if legoCfg.CADirURL == "" {
		legoCfg.CADirURL = letsEncryptProdURL
	}
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "create ACME client", err)
	}

	// lego's own HTTP-01 provider answers on :80; the sidecar only takes
	// over that FQDN's traffic once the cert this unblocks has landed.
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80")); err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "set HTTP-01 provider", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "register ACME account", err)
	}
	user.registration = reg

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = BaseDir
	}

	return &ACMEIssuer{client: client, user: user, baseDir: baseDir}, nil
}

// Issue requests a fresh certificate for fqdn (spec §6 "issue(fqdn,
// challenge, creds)").
func (a *ACMEIssuer) Issue(ctx context.Context, fqdn string, ch ChallengeType) (*Certificate, error) {
	if ch == ChallengeDNS01 {
		return nil, forgeerr.New(forgeerr.ConfigError, "dns01 challenge is not supported: the DNS/GLB adapter has no raw TXT record primitive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{fqdn},
		Bundle:  true,
	})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "obtain certificate for "+fqdn, err)
	}

	cert, err := toCertificate(fqdn, res.Certificate, res.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := a.write(cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// Renew re-issues fqdn's certificate from the currently-written one on
// disk (spec §6 "renew(fqdn)").
func (a *ACMEIssuer) Renew(ctx context.Context, fqdn string) (*Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := filepath.Join(a.baseDir, fqdn)
	certPEM, err := os.ReadFile(filepath.Join(dir, "fullchain.pem"))
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read existing certificate for "+fqdn, err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, "privkey.pem"))
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read existing key for "+fqdn, err)
	}

	renewed, err := a.client.Certificate.Renew(certificate.Resource{
		Certificate: certPEM,
		PrivateKey:  keyPEM,
	}, true, false, "")
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "renew certificate for "+fqdn, err)
	}

	cert, err := toCertificate(fqdn, renewed.Certificate, renewed.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := a.write(cert); err != nil {
		return nil, err
	}
	return cert, nil
}

func toCertificate(fqdn string, certPEM, keyPEM []byte) (*Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, forgeerr.New(forgeerr.ConfigError, "decode certificate PEM for "+fqdn)
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "parse certificate for "+fqdn, err)
	}
	return &Certificate{
		FQDN:      fqdn,
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		Issuer:    parsed.Issuer.CommonName,
		NotBefore: parsed.NotBefore,
		NotAfter:  parsed.NotAfter,
	}, nil
}

// write persists cert under {baseDir}/{fqdn}/{fullchain.pem,privkey.pem}
// (spec §6 on-host filesystem layout).
func (a *ACMEIssuer) write(cert *Certificate) error {
	dir := filepath.Join(a.baseDir, cert.FQDN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "create cert directory for "+cert.FQDN, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), cert.CertPEM, 0o644); err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "write fullchain.pem for "+cert.FQDN, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), cert.KeyPEM, 0o600); err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "write privkey.pem for "+cert.FQDN, err)
	}
	return nil
}
