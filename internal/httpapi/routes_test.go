package httpapi

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krich11/kme-sub000/pkg/saeauth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRegistry resolves every fingerprint to a single fixed SAE,
// standing in for pkg/saestore in these handler-boundary tests.
type fakeRegistry struct {
	saeID  string
	active bool
}

func (f fakeRegistry) LookupByFingerprint(_ context.Context, _ string) (string, bool, error) {
	return f.saeID, f.active, nil
}

// newTestRouter mounts the ETSI routes with services left nil: every
// scenario below is rejected before the handler ever touches services,
// either by saeauth.Middleware or by request validation.
func newTestRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(saeauth.Middleware(fakeRegistry{saeID: "AAAABBBBCCCCDDDD", active: true}, discardLogger()))
		mountETSIRoutes(r, nil)
	})
	return r
}

func withTestCert(req *http.Request) *http.Request {
	ctx := saeauth.WithTestCertificate(req.Context(), &x509.Certificate{})
	return req.WithContext(ctx)
}

func TestHandlers_RejectMissingClientCertificate(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys/BBBBCCCCDDDDEEEE/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleGetStatus_RejectsMalformedSlaveSAEID(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodGet, "/api/v1/keys/short/status", nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "INVALID_REQUEST", body.ErrorCode)
}

func TestHandleGetKey_RejectsMalformedJSONBody(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodPost, "/api/v1/keys/BBBBCCCCDDDDEEEE/enc_keys", strings.NewReader("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetKey_RejectsInvalidNumberField(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodPost, "/api/v1/keys/BBBBCCCCDDDDEEEE/enc_keys", strings.NewReader(`{"number":-1}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetKeyWithIDs_RejectsEmptyKeyIDs(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodPost, "/api/v1/keys/AAAABBBBCCCCDDDD/dec_keys", strings.NewReader(`{"key_IDs":[]}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListKeysBySAE_RejectsOtherSAEID(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodGet, "/debug/saes/BBBBCCCCDDDDEEEE/keys", nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleGetKeyWithIDs_RejectsMalformedKeyIDUUID(t *testing.T) {
	r := newTestRouter()
	req := withTestCert(httptest.NewRequest(http.MethodPost, "/api/v1/keys/AAAABBBBCCCCDDDD/dec_keys", strings.NewReader(`{"key_IDs":[{"key_ID":"not-a-uuid"}]}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
