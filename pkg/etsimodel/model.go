// Package etsimodel defines the ETSI GS QKD 014 V1.1.1 wire types: the
// exact JSON shapes exchanged over the three KME REST operations, with
// their field casing preserved verbatim as the standard specifies it.
package etsimodel

// Status is the response body of Get Status (ETSI §5.1).
type Status struct {
	SourceKMEID      string         `json:"source_KME_ID"`
	TargetKMEID      string         `json:"target_KME_ID"`
	MasterSAEID      string         `json:"master_SAE_ID"`
	SlaveSAEID       string         `json:"slave_SAE_ID"`
	KeySize          int            `json:"key_size"`
	StoredKeyCount   int            `json:"stored_key_count"`
	MaxKeyCount      int            `json:"max_key_count"`
	MaxKeyPerRequest int            `json:"max_key_per_request"`
	MaxKeySize       int            `json:"max_key_size"`
	MinKeySize       int            `json:"min_key_size"`
	MaxSAEIDCount    int            `json:"max_SAE_ID_count"`
	StatusExtension  map[string]any `json:"status_extension,omitempty"`
}

// Extension is a single-entry name/value map, as used by
// extension_mandatory and extension_optional.
type Extension map[string]any

// KeyRequest is the body of Get Key / enc_keys (ETSI §5.2).
type KeyRequest struct {
	Number                int         `json:"number,omitempty" validate:"omitempty,min=1"`
	Size                  int         `json:"size,omitempty" validate:"omitempty,min=8"`
	AdditionalSlaveSAEIDs []string    `json:"additional_slave_SAE_IDs,omitempty" validate:"omitempty,dive,len=16"`
	ExtensionMandatory    []Extension `json:"extension_mandatory,omitempty"`
	ExtensionOptional     []Extension `json:"extension_optional,omitempty"`
}

// KeyIDEntry identifies one key within a Get Key with Key IDs request.
type KeyIDEntry struct {
	KeyID          string         `json:"key_ID" validate:"required,uuid4"`
	KeyIDExtension map[string]any `json:"key_ID_extension,omitempty"`
}

// KeyIDs is the body of Get Key with Key IDs / dec_keys (ETSI §5.3).
type KeyIDs struct {
	KeyIDs []KeyIDEntry `json:"key_IDs" validate:"required,min=1,dive"`
}

// Key is a single delivered key, base64-encoded.
type Key struct {
	KeyID          string         `json:"key_ID"`
	Key            string         `json:"key"`
	KeyIDExtension map[string]any `json:"key_ID_extension,omitempty"`
	KeyExtension   map[string]any `json:"key_extension,omitempty"`
}

// KeyContainer is the response body of both enc_keys and dec_keys.
type KeyContainer struct {
	Keys                  []Key          `json:"keys"`
	KeyContainerExtension map[string]any `json:"key_container_extension,omitempty"`
}
