// Package audit is an async, buffered writer for the three event
// streams SPEC_FULL.md's ambient stack adds: key access, key
// distribution, and security events (e.g. integrity failures). It
// never blocks a request handler — entries are dropped with a logged
// warning if the buffer is full, matching the teacher's
// internal/audit.Writer, generalized from one entry shape to three.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krich11/kme-sub000/internal/telemetry"
)

// Kind selects which table an Entry belongs to.
type Kind string

const (
	KindKeyAccess       Kind = "key_access"
	KindKeyDistribution Kind = "key_distribution"
	KindSecurityEvent   Kind = "security_event"
)

// Severity classifies a security event (DESIGN.md Open Question decision:
// a closed string-enum rather than a free string).
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome records whether a key access attempt succeeded, so a failed
// retrieval (a malformed or unresolved key_ID, an integrity failure) is
// as visible in the log as a successful one (spec.md §3).
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one audit record awaiting flush. Not every field applies to
// every Kind; flush groups entries by Kind and writes the subset of
// fields each target table has a column for.
type Entry struct {
	Kind      Kind
	SAEID     string
	KeyID     uuid.UUID
	Action    string
	Outcome   Outcome
	RequestID string
	Severity  Severity
	Detail    json.RawMessage
	IPAddress *netip.Addr

	// Key distribution only: one entry per enc_keys or dec_keys batch, not per key.
	MasterSAEID    string
	KeyIDs         []uuid.UUID
	ProcessingTime time.Duration
}

// Writer buffers entries in memory and flushes them to Postgres
// periodically or once a batch threshold is reached.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background flush goroutine and returns at once.
// The goroutine runs until ctx is cancelled or Close is called, and
// flushes the entries it has buffered before it exits.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry for async writing. It never blocks; a full
// buffer drops the entry with a warning.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit buffer full, dropping entry", "kind", entry.Kind, "action", entry.Action)
	}
}

// LogKeyAccess records a successful or failed key retrieval attempt,
// one entry per key_ID.
func (w *Writer) LogKeyAccess(saeID string, keyID uuid.UUID, action string, outcome Outcome, requestID string) {
	w.Log(Entry{Kind: KindKeyAccess, SAEID: saeID, KeyID: keyID, Action: action, Outcome: outcome, RequestID: requestID})
}

// LogKeyDistribution records one resolved enc_keys or dec_keys batch:
// the master, the slave, every key_ID delivered, and how long the
// operation took (spec.md §3's key_distribution_events row per
// successful batch, not per key).
func (w *Writer) LogKeyDistribution(masterSAEID, slaveSAEID string, keyIDs []uuid.UUID, processingTime time.Duration, requestID string) {
	w.Log(Entry{
		Kind:           KindKeyDistribution,
		SAEID:          slaveSAEID,
		MasterSAEID:    masterSAEID,
		KeyIDs:         keyIDs,
		ProcessingTime: processingTime,
		RequestID:      requestID,
	})
}

// LogSecurityEvent records a security-relevant condition such as an
// integrity verification failure (spec.md §4.3).
func (w *Writer) LogSecurityEvent(saeID string, keyID uuid.UUID, action string, severity Severity) {
	w.Log(Entry{Kind: KindSecurityEvent, SAEID: saeID, KeyID: keyID, Action: action, Severity: severity})
	telemetry.SecurityEventsTotal.WithLabelValues(string(severity)).Inc()
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush groups entries by kind, since each kind targets a distinct
// table with a distinct column set.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var keyAccess, keyDist, security []Entry
	for _, e := range entries {
		switch e.Kind {
		case KindKeyAccess:
			keyAccess = append(keyAccess, e)
		case KindKeyDistribution:
			keyDist = append(keyDist, e)
		case KindSecurityEvent:
			security = append(security, e)
		}
	}

	for _, e := range keyAccess {
		if _, err := w.pool.Exec(ctx, `INSERT INTO key_access_logs (sae_id, key_id, action, outcome, request_id, occurred_at) VALUES ($1,$2,$3,$4,$5,now())`,
			e.SAEID, e.KeyID, e.Action, e.Outcome, e.RequestID); err != nil {
			w.logger.Error("writing key access log", "error", err, "sae_id", e.SAEID)
		}
	}
	for _, e := range keyDist {
		if _, err := w.pool.Exec(ctx, `INSERT INTO key_distribution_events (master_sae_id, slave_sae_id, key_ids, processing_time_ms, request_id, occurred_at) VALUES ($1,$2,$3,$4,$5,now())`,
			e.MasterSAEID, e.SAEID, e.KeyIDs, e.ProcessingTime.Milliseconds(), e.RequestID); err != nil {
			w.logger.Error("writing key distribution event", "error", err, "master_sae_id", e.MasterSAEID)
		}
	}
	for _, e := range security {
		if _, err := w.pool.Exec(ctx, `INSERT INTO security_events (sae_id, key_id, action, severity, occurred_at) VALUES ($1,$2,$3,$4,now())`,
			e.SAEID, e.KeyID, e.Action, e.Severity); err != nil {
			w.logger.Error("writing security event", "error", err, "sae_id", e.SAEID)
		}
	}
}
