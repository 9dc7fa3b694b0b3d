package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
	"github.com/krich11/kme-sub000/pkg/kmeservice"
	"github.com/krich11/kme-sub000/pkg/saeauth"
)

// mountETSIRoutes wires the three ETSI GS QKD 014 operations (spec.md
// §6) onto r. Every route is already behind the mTLS identity
// middleware mounted by NewServer.
func mountETSIRoutes(r chi.Router, services *kmeservice.Services) {
	r.Get("/api/v1/keys/{slave_SAE_ID}/status", handleGetStatus(services))
	r.Post("/api/v1/keys/{slave_SAE_ID}/enc_keys", handleGetKey(services))
	r.Get("/api/v1/keys/{slave_SAE_ID}/enc_keys", handleGetKey(services))
	r.Post("/api/v1/keys/{master_SAE_ID}/dec_keys", handleGetKeyWithIDs(services))
	r.Get("/api/v1/keys/{master_SAE_ID}/dec_keys", handleGetKeyWithIDs(services))
	r.Get("/debug/saes/{sae_ID}/keys", handleListKeysBySAE(services))
}

// handleListKeysBySAE is an operational visibility endpoint (not part
// of ETSI GS QKD 014): a SAE may list the non-secret records currently
// active for itself, by role, for troubleshooting its own key
// inventory. It never returns plaintext and never resolves another
// SAE's records.
func handleListKeysBySAE(services *kmeservice.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := saeauth.FromContext(r.Context())
		if identity == nil {
			RespondError(w, r, errUnauthenticated)
			return
		}

		saeID := chi.URLParam(r, "sae_ID")
		if saeID != identity.SAEID {
			RespondError(w, r, kmeerror.Unauthorized("can only list your own key inventory"))
			return
		}

		role := keystore.RoleSlave
		if r.URL.Query().Get("role") == string(keystore.RoleMaster) {
			role = keystore.RoleMaster
		}

		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		records, err := services.ListKeysBySAE(r.Context(), saeID, role, limit)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		Respond(w, http.StatusOK, records)
	}
}

// handleGetStatus implements ETSI §5.1. The caller is always the
// master in this interaction (spec.md §4.8).
func handleGetStatus(services *kmeservice.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := saeauth.FromContext(r.Context())
		if identity == nil {
			RespondError(w, r, errUnauthenticated)
			return
		}

		slaveSAEID := chi.URLParam(r, "slave_SAE_ID")
		status, err := services.GetStatus(r.Context(), identity.SAEID, slaveSAEID)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		Respond(w, http.StatusOK, status)
	}
}

// handleGetKey implements ETSI §5.2 (enc_keys). A GET with no body is
// treated as a default-valued KeyRequest; a POST carries the full body.
func handleGetKey(services *kmeservice.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := saeauth.FromContext(r.Context())
		if identity == nil {
			RespondError(w, r, errUnauthenticated)
			return
		}

		req, ok := decodeAndValidateKeyRequest(w, r)
		if !ok {
			return
		}

		slaveSAEID := chi.URLParam(r, "slave_SAE_ID")
		container, err := services.GetKey(r.Context(), identity.SAEID, slaveSAEID, RequestIDFromContext(r.Context()), req)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		Respond(w, http.StatusOK, container)
	}
}

// handleGetKeyWithIDs implements ETSI §5.3 (dec_keys). The caller is
// always a slave (or additional slave) in this interaction.
func handleGetKeyWithIDs(services *kmeservice.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := saeauth.FromContext(r.Context())
		if identity == nil {
			RespondError(w, r, errUnauthenticated)
			return
		}

		req, ok := decodeAndValidateKeyIDs(w, r)
		if !ok {
			return
		}

		masterSAEID := chi.URLParam(r, "master_SAE_ID")
		container, err := services.GetKeyWithIDs(r.Context(), masterSAEID, identity.SAEID, RequestIDFromContext(r.Context()), req)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		Respond(w, http.StatusOK, container)
	}
}
