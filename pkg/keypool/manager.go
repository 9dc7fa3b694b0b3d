package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/keygen"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// Storage is the slice of keystore.Store the pool manager depends on.
// Accounting flows one way, storage -> pool; the pool never reaches
// back into the request pipeline.
type Storage interface {
	PoolCounters(ctx context.Context) (keystore.PoolCounters, error)
	GenerationRate24h(ctx context.Context) (int, error)
	ConsumptionRate24h(ctx context.Context) (int, error)
	StoreKey(ctx context.Context, p keystore.StoreKeyParams) error
}

// Limits carries the pool-sizing configuration (spec §6 config table).
type Limits struct {
	MaxKeyCount         int
	MinKeyThreshold      int
	EmergencyBatchSize  int
	KeyExpiry           time.Duration
	ReplenishmentPeriod time.Duration
	DefaultKeySize      int
}

// replenishLockKey is the Redis key used to ensure only one process runs
// replenishment at a time (spec §5's concurrency note).
const replenishLockKey = "kme:replenish:lock"

// Manager holds no authoritative state: Status recomputes from storage
// whenever the cache is stale. An in-memory cache is kept for cheap repeated reads
// within one replenishment period, invalidated by a monotonic version
// counter bumped on every successful write (spec §4.4's shared-state policy).
type Manager struct {
	storage   Storage
	generator keygen.Generator
	redis     *redis.Client
	limits    Limits
	logger    *slog.Logger

	mu             sync.RWMutex
	cached         Status
	cachedAt       time.Time
	lastHealth     Health
	lastGeneration time.Time
	version        atomic.Uint64
	cacheVersion   uint64
}

// NewManager builds a Manager. redis may be nil, in which case the
// replenishment loop runs without the distributed lock — safe for a
// single-process deployment, which is how this module is typically run.
func NewManager(storage Storage, generator keygen.Generator, rdb *redis.Client, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		storage:   storage,
		generator: generator,
		redis:     rdb,
		limits:    limits,
		logger:    logger,
	}
}

// Invalidate bumps the version counter, forcing the next Status call to
// recompute rather than serve the cache. Callers invoke this after any
// successful write path (store, consume, cleanup).
func (m *Manager) Invalidate() {
	m.version.Add(1)
}

// recordGeneration stamps the time of the most recent successful
// replenishment batch, surfaced on the next Status() snapshot
// (spec §3/§4.4 step 4's "last generation timestamp").
func (m *Manager) recordGeneration() {
	m.mu.Lock()
	m.lastGeneration = time.Now()
	m.mu.Unlock()
}

// Status returns the current pool snapshot, recomputing from storage
// whenever the version counter has advanced since the last computation.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	current := m.version.Load()

	m.mu.RLock()
	if m.cacheVersion == current && !m.cachedAt.IsZero() {
		s := m.cached
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	counters, err := m.storage.PoolCounters(ctx)
	if err != nil {
		return Status{}, err
	}
	genRate, err := m.storage.GenerationRate24h(ctx)
	if err != nil {
		return Status{}, err
	}
	consRate, err := m.storage.ConsumptionRate24h(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Total:              counters.Total,
		Active:             counters.Active,
		Expired:            counters.Expired,
		Consumed:           counters.Consumed,
		MaxKeyCount:        m.limits.MaxKeyCount,
		MinKeyThreshold:    m.limits.MinKeyThreshold,
		GenerationRate24h:  genRate,
		ConsumptionRate24h: consRate,
		Health:             classify(counters.Active, m.limits.MinKeyThreshold),
	}
	if m.limits.MaxKeyCount > 0 {
		status.AvailabilityPercent = 100 * float64(counters.Active) / float64(m.limits.MaxKeyCount)
	}

	m.mu.Lock()
	status.Version = current
	status.LastGeneration = m.lastGeneration
	m.cached = status
	m.cachedAt = time.Now()
	m.cacheVersion = current
	m.mu.Unlock()

	telemetry.PoolActiveKeys.Set(float64(status.Active))
	telemetry.PoolHealth.Set(status.Health.Ordinal())

	return status, nil
}

// classify implements the health thresholds of spec §4.4.
func classify(active, minThreshold int) Health {
	switch {
	case active == 0:
		return HealthExhausted
	case active < minThreshold:
		return HealthCritical
	case active < 2*minThreshold:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// EnsureAvailable implements the exhaustion-handling branch of spec
// §4.4: it returns nil if the pool can satisfy n keys of any size,
// otherwise an Exhausted or Insufficient kmeerror, triggering
// replenishment as appropriate.
func (m *Manager) EnsureAvailable(ctx context.Context, n int) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	if status.Active == 0 {
		m.TriggerEmergencyReplenishment()
		return kmeerror.Exhausted(0, n, fmt.Sprintf("emergency replenishment triggered; retry in roughly %s", m.limits.ReplenishmentPeriod))
	}

	if status.Active < n {
		if status.Active < status.MinKeyThreshold {
			m.TriggerEmergencyReplenishment()
		}
		return kmeerror.Insufficient(status.Active, n)
	}

	return nil
}

// CheckAlertConditions returns the set of currently active alerts.
// Alerts are values; delivery is the caller's concern.
func (m *Manager) CheckAlertConditions(status Status) []Alert {
	var alerts []Alert

	if status.Active < status.MinKeyThreshold {
		alerts = append(alerts, Alert{
			Kind:    AlertLowKeys,
			Message: fmt.Sprintf("active keys (%d) below min_key_threshold (%d)", status.Active, status.MinKeyThreshold),
			Health:  status.Health,
		})
	}

	if status.GenerationRate24h > 0 && float64(status.ConsumptionRate24h) > 1.5*float64(status.GenerationRate24h) {
		alerts = append(alerts, Alert{
			Kind:    AlertHighConsumptionRate,
			Message: "consumption rate exceeds 1.5x generation rate over the trailing 24h",
			Health:  status.Health,
		})
	}

	m.mu.RLock()
	prev := m.lastHealth
	m.mu.RUnlock()
	if prev != "" && prev != status.Health {
		alerts = append(alerts, Alert{
			Kind:    AlertHealthTransition,
			Message: fmt.Sprintf("pool health transitioned from %s to %s", prev, status.Health),
			Health:  status.Health,
		})
	}
	m.mu.Lock()
	m.lastHealth = status.Health
	m.mu.Unlock()

	return alerts
}

// TriggerEmergencyReplenishment runs a bounded emergency batch
// asynchronously, bypassing the period gate. It does not block the
// caller's request handler.
func (m *Manager) TriggerEmergencyReplenishment() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*m.limits.ReplenishmentPeriod)
		defer cancel()
		if err := m.replenishOnce(ctx, true); err != nil {
			m.logger.Error("emergency replenishment failed", "error", err)
		}
	}()
}

// RunReplenishmentLoop runs the periodic replenishment control loop
// until ctx is cancelled (spec §4.4, one explicit task per background
// responsibility per the redesign notes of §9).
func (m *Manager) RunReplenishmentLoop(ctx context.Context) {
	m.logger.Info("replenishment loop started", "period", m.limits.ReplenishmentPeriod)
	ticker := time.NewTicker(m.limits.ReplenishmentPeriod)
	defer ticker.Stop()

	if err := m.replenishOnce(ctx, false); err != nil {
		m.logger.Error("initial replenishment", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("replenishment loop stopped")
			return
		case <-ticker.C:
			if err := m.replenishOnce(ctx, false); err != nil {
				m.logger.Error("replenishment", "error", err)
			}
		}
	}
}

func (m *Manager) replenishOnce(ctx context.Context, emergency bool) error {
	release, ok, err := m.acquireLock(ctx)
	if err != nil {
		m.logger.Warn("replenishment lock unavailable, proceeding unlocked", "error", err)
	} else if !ok {
		m.logger.Debug("replenishment already running on another process, skipping")
		telemetry.ReplenishmentRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	} else {
		defer release()
	}

	status, err := m.Status(ctx)
	if err != nil {
		telemetry.ReplenishmentRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("reading pool status: %w", err)
	}

	n := 0
	switch {
	case emergency:
		n = m.limits.EmergencyBatchSize
	case status.Active < status.MinKeyThreshold:
		n = m.limits.MaxKeyCount - status.Active
	default:
		telemetry.ReplenishmentRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if n <= 0 {
		telemetry.ReplenishmentRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	// The generator is an external collaborator (possibly a real QKD
	// link) and may be transiently unavailable; retry with bounded
	// exponential backoff rather than failing the whole batch outright.
	rawKeys, err := backoff.Retry(ctx, func() ([]keygen.RawKey, error) {
		return m.generator.Generate(ctx, n, m.limits.DefaultKeySize)
	}, backoff.WithMaxTries(3))
	if err != nil {
		telemetry.ReplenishmentRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("invoking key generator: %w", err)
	}

	stored := 0
	for _, raw := range rawKeys {
		select {
		case <-ctx.Done():
			m.logger.Info("replenishment cancelled, partial batch committed", "stored", stored, "requested", n)
			if stored > 0 {
				m.recordGeneration()
				telemetry.KeysGeneratedTotal.Add(float64(stored))
			}
			m.Invalidate()
			telemetry.ReplenishmentRunsTotal.WithLabelValues("error").Inc()
			return ctx.Err()
		default:
		}

		err := m.storage.StoreKey(ctx, keystore.StoreKeyParams{
			KeyID:       uuid.New(),
			Plaintext:   raw.Plaintext,
			MasterSAEID: keystore.PoolSentinelMasterSAEID,
			SlaveSAEID:  keystore.PoolSentinelSlaveSAEID,
			KeySizeBits: m.limits.DefaultKeySize,
			ExpiresAt:   time.Now().Add(m.limits.KeyExpiry),
			Metadata:    raw.QualityMetrics,
		})
		if err != nil {
			m.logger.Error("storing replenished key", "error", err)
			continue
		}
		stored++
	}
	if stored > 0 {
		m.recordGeneration()
		telemetry.KeysGeneratedTotal.Add(float64(stored))
	}

	m.Invalidate()
	m.logger.Info("replenishment completed", "emergency", emergency, "requested", n, "stored", stored)
	telemetry.ReplenishmentRunsTotal.WithLabelValues("success").Inc()
	return nil
}

// acquireLock attempts the distributed SETNX lock; ok is false if
// another process already holds it. release is a no-op if redis is nil.
func (m *Manager) acquireLock(ctx context.Context) (release func(), ok bool, err error) {
	if m.redis == nil {
		return func() {}, true, nil
	}

	acquired, err := m.redis.SetNX(ctx, replenishLockKey, "1", m.limits.ReplenishmentPeriod).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !acquired {
		return func() {}, false, nil
	}
	return func() {
		m.redis.Del(context.Background(), replenishLockKey)
	}, true, nil
}
