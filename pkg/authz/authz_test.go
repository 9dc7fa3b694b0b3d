package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseRecord() Record {
	return Record{
		MasterSAEID:           "IIIIJJJJKKKKLLLL",
		SlaveSAEID:            "MMMMNNNNOOOOPPPP",
		AdditionalSlaveSAEIDs: []string{"AAAA1111BBBB2222"},
	}
}

func TestAuthorize_MasterAlwaysAllowed(t *testing.T) {
	d := Authorize(baseRecord(), "IIIIJJJJKKKKLLLL", OpEncKeys, "")
	assert.True(t, d.Allowed)

	d = Authorize(baseRecord(), "IIIIJJJJKKKKLLLL", OpDecKeys, "IIIIJJJJKKKKLLLL")
	assert.True(t, d.Allowed)
}

func TestAuthorize_SlaveOnlyAllowedForDecKeys(t *testing.T) {
	d := Authorize(baseRecord(), "MMMMNNNNOOOOPPPP", OpEncKeys, "")
	assert.False(t, d.Allowed)

	d = Authorize(baseRecord(), "MMMMNNNNOOOOPPPP", OpDecKeys, "IIIIJJJJKKKKLLLL")
	assert.True(t, d.Allowed)
}

func TestAuthorize_AdditionalSlaveAllowed(t *testing.T) {
	d := Authorize(baseRecord(), "AAAA1111BBBB2222", OpDecKeys, "IIIIJJJJKKKKLLLL")
	assert.True(t, d.Allowed)
}

func TestAuthorize_UnrelatedSAEDenied(t *testing.T) {
	d := Authorize(baseRecord(), "XXXXYYYYZZZZ0000", OpDecKeys, "IIIIJJJJKKKKLLLL")
	assert.False(t, d.Allowed)
}

func TestAuthorize_AllegedMasterMismatchDenied(t *testing.T) {
	d := Authorize(baseRecord(), "MMMMNNNNOOOOPPPP", OpDecKeys, "WRONGMASTER000001")
	assert.False(t, d.Allowed)
}
