// Package mtls builds the server-side TLS configuration the KME listens
// with: it requires and verifies a client certificate on every
// connection, the sole authentication mechanism in this API (spec.md
// §4.8, §6). It has no analogue in the teacher, which terminates TLS
// at a reverse proxy and authenticates via bearer token instead — this
// package generalizes that same "listener setup lives in its own small
// package next to config" shape to a certificate-based model.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config names the certificate material needed to run an mTLS listener.
type Config struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
}

// BuildTLSConfig loads the server certificate and client CA pool and
// returns a *tls.Config that rejects any connection without a
// certificate signed by the configured CA.
func BuildTLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA bundle: %w", err)
	}
	clientCAs := x509.NewCertPool()
	if !clientCAs.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from client CA bundle %s", cfg.ClientCAFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
