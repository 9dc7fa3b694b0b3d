// Package saeauth extracts the caller's SAE identity from its mTLS
// client certificate and exposes it to downstream handlers via context
// (spec.md §4.8). There is no header, cookie, bearer token, or session
// of any kind in this authentication model — the certificate is the
// only credential.
package saeauth

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"log/slog"
	"net/http"
)

// Identity is the authenticated caller for the current request.
type Identity struct {
	SAEID              string
	CertificateSHA256  string
	CertificateSubject string
}

type ctxKey string

const identityKey ctxKey = "sae_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if
// no identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// Registry resolves a certificate fingerprint to a known, non-revoked
// SAE. Implemented by pkg/saestore.
type Registry interface {
	LookupByFingerprint(ctx context.Context, fingerprint string) (saeID SAEID, active bool, err error)
}

// SAEID is an alias of string that names a resolved SAE identity in
// signatures. Being an alias, it is interchangeable with any string and
// the compiler does not distinguish the two.
type SAEID = string

// Middleware resolves the SAE identity by looking up the SHA-256
// fingerprint of the verified leaf client certificate in the registry,
// and rejects the request with 401 if no certificate is present, the
// lookup fails, or the SAE is not active. The certificate's Common Name
// is recorded as Identity.CertificateSubject; it is not compared with
// the SAE ID the registry returns. This is the sole
// authentication boundary for the KME's REST surface (spec.md §4.8);
// TLS termination must already require and verify the client
// certificate (see internal/mtls) before this middleware ever runs.
func Middleware(registry Registry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := identityFromRequest(r, registry)
			if err != nil {
				logger.Warn("sae authentication failed", "error", err, "remote_addr", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"client certificate did not resolve to a registered SAE"}`))
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromRequest(r *http.Request, registry Registry) (*Identity, error) {
	cert := peerCertificate(r)
	if cert == nil {
		return nil, errNoCertificate
	}

	fingerprint := Fingerprint(cert)
	saeID, active, err := registry.LookupByFingerprint(r.Context(), fingerprint)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errSAEInactive
	}

	return &Identity{
		SAEID:              saeID,
		CertificateSHA256:  fingerprint,
		CertificateSubject: cert.Subject.CommonName,
	}, nil
}

// peerCertificate returns the leaf client certificate, preferring a
// test-injected certificate over r.TLS so handler tests can run
// without standing up a real TLS listener.
func peerCertificate(r *http.Request) *x509.Certificate {
	if cert, ok := r.Context().Value(testCertKey).(*x509.Certificate); ok {
		return cert
	}
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil
	}
	return r.TLS.PeerCertificates[0]
}

// Fingerprint returns the SHA-256 hex digest of a certificate's raw
// DER encoding, the value stored as saes.certificate_fingerprint.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

type testCertContextKey string

const testCertKey testCertContextKey = "sae_test_certificate"

// WithTestCertificate injects a certificate into the context for use by
// the peer-certificate extraction above, bypassing r.TLS. Production
// code never calls this; it exists so handler and pipeline tests can
// exercise the mTLS boundary without a real TLS handshake.
func WithTestCertificate(ctx context.Context, cert *x509.Certificate) context.Context {
	return context.WithValue(ctx, testCertKey, cert)
}

// PeerCertificateFromConnState returns the leaf peer certificate of a
// TLS connection state, or nil if the peer presented none.
func PeerCertificateFromConnState(state tls.ConnectionState) *x509.Certificate {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0]
}
