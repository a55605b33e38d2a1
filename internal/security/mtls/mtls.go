// Package mtls builds the TLS configuration of the bootstrap HTTP server.
// Configuring a client CA turns on mutual TLS, so only holders of an issued
// client certificate reach the bootstrap page.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrCertNotFound   = errors.New("certificate file not found")
	ErrKeyNotFound    = errors.New("private key file not found")
	ErrCANotFound     = errors.New("client CA certificate not found")
	ErrInvalidCert    = errors.New("invalid certificate")
	ErrCertLoadFailed = errors.New("failed to load certificate")
	ErrIncomplete     = errors.New("tls needs both a certificate and a key")
)

// CertPaths holds the paths to the server certificate files.
type CertPaths struct {
	Cert string
	Key  string
	// ClientCA, when set, requires and verifies client certificates.
	ClientCA string
}

// Enabled reports whether any TLS file is configured.
func (p CertPaths) Enabled() bool {
	return p.Cert != "" || p.Key != "" || p.ClientCA != ""
}

// Check verifies that the configured files are complete and present.
func (p CertPaths) Check() error {
	if p.Cert == "" || p.Key == "" {
		return ErrIncomplete
	}
	if _, err := os.Stat(p.Cert); err != nil {
		return fmt.Errorf("%w: %s", ErrCertNotFound, p.Cert)
	}
	if _, err := os.Stat(p.Key); err != nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, p.Key)
	}
	if p.ClientCA != "" {
		if _, err := os.Stat(p.ClientCA); err != nil {
			return fmt.Errorf("%w: %s", ErrCANotFound, p.ClientCA)
		}
	}
	return nil
}

// NewServerTLSConfig creates the server TLS configuration for paths.
func NewServerTLSConfig(paths CertPaths) (*tls.Config, error) {
	if err := paths.Check(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(paths.Cert, paths.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertLoadFailed, err)
	}
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if paths.ClientCA != "" {
		pool, err := loadCertPool(paths.ClientCA)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCANotFound
		}
		return nil, fmt.Errorf("reading client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: failed to parse client CA", ErrInvalidCert)
	}
	return pool, nil
}

// CertExpiry returns the expiration time of the certificate at certPath.
func CertExpiry(certPath string) (time.Time, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("%w: no PEM block", ErrInvalidCert)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert.NotAfter, nil
}
