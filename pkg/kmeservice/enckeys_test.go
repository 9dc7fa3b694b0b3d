package kmeservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

func testConfig() Config {
	return Config{
		Identity: Identity{KMEID: "AAAABBBBCCCCDDDD"},
		Limits: etsimodel.Limits{
			DefaultKeySize:    352,
			MinKeySize:        64,
			MaxKeySize:        8192,
			MaxKeysPerRequest: 128,
			MaxSAEIDCount:     10,
		},
		MaxKeyCount:         100000,
		MinKeyThreshold:     10000,
		KeyExpirySecs:       86400,
		SingleUseKeys:       true,
		SupportedExtensions: map[string]bool{"test_extension": true},
	}
}

func TestGetKey_RejectsMalformedSlaveSAEID(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetKey(context.Background(), "AAAABBBBCCCCDDDD", "short", "req-1", etsimodel.KeyRequest{})
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindInvalidRequest, kerr.Kind)
}

func TestGetKey_RejectsOversizedNumber(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetKey(context.Background(), "AAAABBBBCCCCDDDD", "BBBBCCCCDDDDEEEE", "req-1", etsimodel.KeyRequest{Number: 9999})
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindInvalidRequest, kerr.Kind)
}

func TestGetKey_RejectsUnsupportedMandatoryExtension(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetKey(context.Background(), "AAAABBBBCCCCDDDD", "BBBBCCCCDDDDEEEE", "req-1", etsimodel.KeyRequest{
		ExtensionMandatory: []etsimodel.Extension{{"unknown_extension": "x"}},
	})
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindExtensionUnsupported, kerr.Kind)
}

func TestUnsupportedMandatoryExtensions(t *testing.T) {
	s := &Services{cfg: testConfig()}
	got := s.unsupportedMandatoryExtensions([]etsimodel.Extension{
		{"test_extension": 1},
		{"other_extension": 2},
	})
	assert.Equal(t, []string{"other_extension"}, got)
}

func TestGetStatus_RejectsMalformedSlaveSAEID(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetStatus(context.Background(), "AAAABBBBCCCCDDDD", "short")
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindInvalidRequest, kerr.Kind)
}

func TestGetKeyWithIDs_RejectsMalformedMasterSAEID(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetKeyWithIDs(context.Background(), "short", "BBBBCCCCDDDDEEEE", "req-1", etsimodel.KeyIDs{
		KeyIDs: []etsimodel.KeyIDEntry{{KeyID: "11111111-1111-4111-8111-111111111111"}},
	})
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindInvalidRequest, kerr.Kind)
}

func TestGetKeyWithIDs_RejectsEmptyKeyIDs(t *testing.T) {
	s := &Services{cfg: testConfig()}
	_, err := s.GetKeyWithIDs(context.Background(), "AAAABBBBCCCCDDDD", "BBBBCCCCDDDDEEEE", "req-1", etsimodel.KeyIDs{})
	require.Error(t, err)
	kerr := err.(*kmeerror.Error)
	assert.Equal(t, kmeerror.KindInvalidRequest, kerr.Kind)
}
