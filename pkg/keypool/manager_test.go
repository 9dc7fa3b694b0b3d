package keypool

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krich11/kme-sub000/pkg/keygen"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

type fakeStorage struct {
	counters keystore.PoolCounters
	genRate  int
	consRate int
	stored   []keystore.StoreKeyParams
}

func (f *fakeStorage) PoolCounters(ctx context.Context) (keystore.PoolCounters, error) {
	return f.counters, nil
}
func (f *fakeStorage) GenerationRate24h(ctx context.Context) (int, error)  { return f.genRate, nil }
func (f *fakeStorage) ConsumptionRate24h(ctx context.Context) (int, error) { return f.consRate, nil }
func (f *fakeStorage) StoreKey(ctx context.Context, p keystore.StoreKeyParams) error {
	f.stored = append(f.stored, p)
	f.counters.Active++
	f.counters.Total++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() Limits {
	return Limits{
		MaxKeyCount:         100,
		MinKeyThreshold:     10,
		EmergencyBatchSize:  5,
		KeyExpiry:           24 * time.Hour,
		ReplenishmentPeriod: time.Minute,
		DefaultKeySize:      256,
	}
}

func TestClassify_HealthBoundaries(t *testing.T) {
	assert.Equal(t, HealthExhausted, classify(0, 10))
	assert.Equal(t, HealthCritical, classify(5, 10))
	assert.Equal(t, HealthWarning, classify(15, 10))
	assert.Equal(t, HealthHealthy, classify(25, 10))
}

func TestManager_StatusComputesHealth(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 5, Total: 10}}
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, status.Health)
	assert.Equal(t, 5, status.Active)
}

func TestManager_StatusCachesUntilInvalidated(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 50}}
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	s1, err := m.Status(context.Background())
	require.NoError(t, err)

	storage.counters.Active = 999 // storage changes, but cache should not reflect it yet
	s2, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s1.Active, s2.Active)

	m.Invalidate()
	s3, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 999, s3.Active)
}

func TestManager_EnsureAvailable_Exhausted(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 0}}
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	err := m.EnsureAvailable(context.Background(), 5)
	require.Error(t, err)
	kerr, ok := err.(*kmeerror.Error)
	require.True(t, ok)
	assert.Equal(t, kmeerror.KindExhausted, kerr.Kind)
}

func TestManager_EnsureAvailable_Insufficient(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 3}}
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	err := m.EnsureAvailable(context.Background(), 5)
	require.Error(t, err)
	kerr, ok := err.(*kmeerror.Error)
	require.True(t, ok)
	assert.Equal(t, kmeerror.KindInsufficient, kerr.Kind)
}

func TestManager_EnsureAvailable_Sufficient(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 50}}
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	assert.NoError(t, m.EnsureAvailable(context.Background(), 5))
}

func TestManager_CheckAlertConditions_LowKeys(t *testing.T) {
	m := NewManager(&fakeStorage{}, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())
	alerts := m.CheckAlertConditions(Status{Active: 2, MinKeyThreshold: 10, Health: HealthCritical})
	require.NotEmpty(t, alerts)
	assert.Equal(t, AlertLowKeys, alerts[0].Kind)
}

func TestManager_CheckAlertConditions_HealthTransition(t *testing.T) {
	m := NewManager(&fakeStorage{}, keygen.NewRandomGenerator(), nil, testLimits(), testLogger())

	m.CheckAlertConditions(Status{Active: 50, MinKeyThreshold: 10, Health: HealthHealthy})
	alerts := m.CheckAlertConditions(Status{Active: 0, MinKeyThreshold: 10, Health: HealthExhausted})

	var sawTransition bool
	for _, a := range alerts {
		if a.Kind == AlertHealthTransition {
			sawTransition = true
		}
	}
	assert.True(t, sawTransition)
}

func TestManager_ReplenishOnce_StoresKeysWithSentinelIdentity(t *testing.T) {
	storage := &fakeStorage{counters: keystore.PoolCounters{Active: 2}}
	limits := testLimits()
	limits.MinKeyThreshold = 10
	limits.MaxKeyCount = 5
	m := NewManager(storage, keygen.NewRandomGenerator(), nil, limits, testLogger())

	err := m.replenishOnce(context.Background(), false)
	require.NoError(t, err)
	require.NotEmpty(t, storage.stored)
	for _, p := range storage.stored {
		assert.Equal(t, keystore.PoolSentinelMasterSAEID, p.MasterSAEID)
		assert.Equal(t, keystore.PoolSentinelSlaveSAEID, p.SlaveSAEID)
	}
}
