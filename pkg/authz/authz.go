// Package authz implements the pure authorization primitive of spec §4.2:
// given a key record and a requesting SAE, decide allow or deny. It has
// no side effects and no dependency on storage, transport, or time.
package authz

// Operation names the two contexts the primitive is evaluated under.
type Operation string

const (
	// OpEncKeys is the master's re-fetch / creation-adjacent read.
	OpEncKeys Operation = "enc_keys"
	// OpDecKeys is the slave's one-shot retrieval.
	OpDecKeys Operation = "dec_keys"
)

// Record is the minimal view of a key record the primitive needs. It
// deliberately omits ciphertext, timestamps, and anything else storage
// owns — authorization here only concerns identity relationships.
type Record struct {
	MasterSAEID            string
	SlaveSAEID              string
	AdditionalSlaveSAEIDs   []string
}

// Decision is the result of evaluating the primitive.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

// Authorize evaluates (record, requester, operation) -> allow|deny per
// spec §4.2. allegedMaster is the master SAE ID named in the dec_keys
// URL path; it is ignored for enc_keys.
func Authorize(record Record, requester string, op Operation, allegedMaster string) Decision {
	if requester == record.MasterSAEID {
		return allow("requester is the master SAE")
	}

	if op != OpDecKeys {
		return deny("requester is neither the master SAE nor performing dec_keys")
	}

	if allegedMaster != "" && allegedMaster != record.MasterSAEID {
		return deny("path master SAE does not match the record's master SAE")
	}

	if requester == record.SlaveSAEID {
		return allow("requester is the primary slave SAE")
	}

	for _, id := range record.AdditionalSlaveSAEIDs {
		if requester == id {
			return allow("requester is an additional slave SAE")
		}
	}

	return deny("requester is not a party to this key record")
}
