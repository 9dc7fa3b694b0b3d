package etsimodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLimits() Limits {
	return Limits{
		DefaultKeySize:    352,
		MinKeySize:        64,
		MaxKeySize:        8192,
		MaxKeysPerRequest: 128,
		MaxSAEIDCount:     10,
	}
}

func TestValidateKeyRequest_Defaults(t *testing.T) {
	req := &KeyRequest{}
	errs := ValidateKeyRequest(req, testLimits(), "MMMMNNNNOOOOPPPP")
	assert.Empty(t, errs)
	assert.Equal(t, 1, req.ResolvedNumber())
	assert.Equal(t, 352, req.ResolvedSize(352))
}

func TestValidateKeyRequest_NumberBoundary(t *testing.T) {
	limits := testLimits()

	req := &KeyRequest{Number: limits.MaxKeysPerRequest}
	assert.Empty(t, ValidateKeyRequest(req, limits, ""))

	req = &KeyRequest{Number: limits.MaxKeysPerRequest + 1}
	errs := ValidateKeyRequest(req, limits, "")
	assert.Len(t, errs, 1)
	assert.Equal(t, "number", errs[0].Field)
}

func TestValidateKeyRequest_SizeBoundary(t *testing.T) {
	limits := testLimits()

	for _, size := range []int{limits.MinKeySize, limits.MaxKeySize} {
		req := &KeyRequest{Size: size}
		assert.Emptyf(t, ValidateKeyRequest(req, limits, ""), "size %d should be valid", size)
	}

	req := &KeyRequest{Size: limits.MinKeySize - 8}
	errs := ValidateKeyRequest(req, limits, "")
	assert.NotEmpty(t, errs)

	req = &KeyRequest{Size: 65} // not a multiple of 8
	errs = ValidateKeyRequest(req, limits, "")
	assert.NotEmpty(t, errs)
}

func TestValidateKeyRequest_AdditionalSlaves(t *testing.T) {
	limits := testLimits()
	primary := "MMMMNNNNOOOOPPPP"

	req := &KeyRequest{AdditionalSlaveSAEIDs: []string{primary}}
	errs := ValidateKeyRequest(req, limits, primary)
	assert.NotEmpty(t, errs, "must not duplicate the primary slave")

	req = &KeyRequest{AdditionalSlaveSAEIDs: []string{"AAAA1111BBBB2222", "AAAA1111BBBB2222"}}
	errs = ValidateKeyRequest(req, limits, primary)
	assert.NotEmpty(t, errs, "duplicates should be rejected")

	req = &KeyRequest{AdditionalSlaveSAEIDs: []string{"short"}}
	errs = ValidateKeyRequest(req, limits, primary)
	assert.NotEmpty(t, errs, "non-16-char ids should be rejected")
}

func TestValidateKeyIDs(t *testing.T) {
	errs := ValidateKeyIDs(&KeyIDs{}, 128)
	assert.NotEmpty(t, errs)

	many := make([]KeyIDEntry, 129)
	errs = ValidateKeyIDs(&KeyIDs{KeyIDs: many}, 128)
	assert.NotEmpty(t, errs)

	errs = ValidateKeyIDs(&KeyIDs{KeyIDs: []KeyIDEntry{{KeyID: "x"}}}, 128)
	assert.Empty(t, errs)
}
