package saeauth

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	byFingerprint map[string]string
	inactive      map[string]bool
}

func (f *fakeRegistry) LookupByFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	saeID, ok := f.byFingerprint[fingerprint]
	if !ok {
		return "", false, errNoCertificate
	}
	return saeID, !f.inactive[saeID], nil
}

func testCert(cn string) *x509.Certificate {
	return &x509.Certificate{
		Raw:     []byte("cert-for-" + cn),
		Subject: pkix.Name{CommonName: cn},
	}
}

func TestMiddleware_ResolvesIdentityFromTestCertificate(t *testing.T) {
	cert := testCert("AAAABBBBCCCCDDDD")
	fp := Fingerprint(cert)
	registry := &fakeRegistry{byFingerprint: map[string]string{fp: "AAAABBBBCCCCDDDD"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotIdentity *Identity
	handler := Middleware(registry, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/AAAABBBBCCCCDDDD/status", nil)
	req = req.WithContext(WithTestCertificate(req.Context(), cert))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotIdentity)
	assert.Equal(t, "AAAABBBBCCCCDDDD", gotIdentity.SAEID)
	assert.Equal(t, fp, gotIdentity.CertificateSHA256)
}

func TestMiddleware_RejectsUnknownCertificate(t *testing.T) {
	registry := &fakeRegistry{byFingerprint: map[string]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Middleware(registry, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/x/status", nil)
	req = req.WithContext(WithTestCertificate(req.Context(), testCert("UNKNOWN0000000000")))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsInactiveSAE(t *testing.T) {
	cert := testCert("AAAABBBBCCCCDDDD")
	fp := Fingerprint(cert)
	registry := &fakeRegistry{
		byFingerprint: map[string]string{fp: "AAAABBBBCCCCDDDD"},
		inactive:      map[string]bool{"AAAABBBBCCCCDDDD": true},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Middleware(registry, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/x/status", nil)
	req = req.WithContext(WithTestCertificate(req.Context(), cert))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsMissingCertificate(t *testing.T) {
	registry := &fakeRegistry{byFingerprint: map[string]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Middleware(registry, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/x/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
