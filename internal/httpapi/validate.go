package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// validate is a package-level, concurrency-safe validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON request body into dst. It enforces a max body
// size; unlike the teacher it does not reject unknown fields, since
// ETSI key requests carry an open-ended extension_optional map that
// legitimately varies by deployment.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	const maxBody = 1 << 20 // 1 MiB

	body := http.MaxBytesReader(w, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return fmt.Errorf("request body too large (max 1 MiB)")
		case errors.Is(err, io.EOF):
			return nil // an absent body is valid; the GET key request defaults apply
		default:
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return nil
}

// validateStruct runs struct-tag validation on v and returns
// kmeerror.Detail entries in the ETSI error envelope's shape.
func validateStruct(v any) []kmeerror.Detail {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []kmeerror.Detail{{Param: "", Reason: err.Error()}}
	}

	out := make([]kmeerror.Detail, 0, len(ve))
	for _, fe := range ve {
		out = append(out, kmeerror.Detail{Param: fe.Field(), Reason: fe.Tag()})
	}
	return out
}

// decodeAndValidateKeyRequest decodes the optional JSON body of an
// enc_keys request and validates it, writing a 400 response itself on
// failure. Returns ok=false if the caller should stop processing.
func decodeAndValidateKeyRequest(w http.ResponseWriter, r *http.Request) (etsimodel.KeyRequest, bool) {
	var req etsimodel.KeyRequest
	if err := decode(w, r, &req); err != nil {
		RespondError(w, r, kmeerror.InvalidRequest(err.Error()))
		return req, false
	}
	if details := validateStruct(req); len(details) > 0 {
		RespondError(w, r, kmeerror.InvalidRequest("request failed validation", details...))
		return req, false
	}
	return req, true
}

// decodeAndValidateKeyIDs decodes and validates a dec_keys request body.
func decodeAndValidateKeyIDs(w http.ResponseWriter, r *http.Request) (etsimodel.KeyIDs, bool) {
	var req etsimodel.KeyIDs
	if err := decode(w, r, &req); err != nil {
		RespondError(w, r, kmeerror.InvalidRequest(err.Error()))
		return req, false
	}
	if details := validateStruct(req); len(details) > 0 {
		RespondError(w, r, kmeerror.InvalidRequest("request failed validation", details...))
		return req, false
	}
	return req, true
}
