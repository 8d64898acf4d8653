// Package tlsprov provisions the data plane's TLS identity: it loads an
// existing certificate/key pair or generates a self-signed one on first
// start.
package tlsprov

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fruitsalade/fileshare/internal/logging"
)

// CommonName is the subject of generated certificates.
const CommonName = "FileShare Server"

const validity = 10 * 365 * 24 * time.Hour

// LoadOrGenerate returns a server TLS config for certFile/keyFile. When
// either file is missing a self-signed pair is generated and written
// there first.
func LoadOrGenerate(certFile, keyFile string) (*tls.Config, error) {
	if !exists(certFile) || !exists(keyFile) {
		logging.Info("generating self-signed TLS certificate",
			logging.String("cert", certFile),
			logging.String("key", keyFile))
		if err := Generate(certFile, keyFile); err != nil {
			return nil, err
		}
	} else {
		logging.Debug("using existing TLS certificate", logging.String("cert", certFile))
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// Generate writes a new self-signed ECDSA P-256 certificate valid for
// localhost, 127.0.0.1 and ::1.
func Generate(certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: CommonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	return writePEM(keyFile, "PRIVATE KEY", keyDER, 0o600)
}

// ClientConfig returns a client TLS config. With a trusted certificate
// file the server must present that certificate; without one the server
// certificate is not verified, which suits self-signed daemons.
func ClientConfig(trustedCert, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: serverName,
	}
	if trustedCert == "" {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	data, err := os.ReadFile(trustedCert)
	if err != nil {
		return nil, fmt.Errorf("read trusted cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("no certificates found in " + trustedCert)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
