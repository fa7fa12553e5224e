// Package audit keeps the append-only, hash-chained record of every state
// transition and decision the engine makes.
//
// Each chain is identified by an execution id, or by "plan/<plan id>" for
// transitions that happen before any execution exists. Entries are totally
// ordered by Sequence; EntryHash covers every field of the entry plus the
// previous entry's hash, so altering any stored entry breaks verification.
package audit

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// GenesisHash is the PrevHash of the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const maxAppendAttempts = 5

// Record is the caller-supplied content of an entry.
type Record struct {
	PlanID      string
	ExecutionID string
	Actor       model.ActorType
	ActorID     string
	Category    model.EventCategory
	Severity    model.Severity
	PriorStatus string
	NewStatus   string
	Message     string
	Details     map[string]string
}

// Anchor receives every appended entry for optional external anchoring.
// It must not block.
type Anchor interface {
	Anchor(ctx context.Context, entry *model.AuditLogEntry)
}

// ChainFor returns the chain an event belongs to.
func ChainFor(planID, executionID string) string {
	if executionID != "" {
		return executionID
	}
	return "plan/" + planID
}

// Logger appends entries and verifies chains.
type Logger struct {
	store  store.AuditStore
	logger *zap.Logger
	anchor Anchor
	now    func() time.Time

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// NewLogger creates an audit logger over st.
func NewLogger(st store.AuditStore, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		store:  st,
		logger: logger,
		now:    time.Now,
		chains: make(map[string]*sync.Mutex),
	}
}

// SetAnchor installs an external anchor. Call before the logger is shared.
func (l *Logger) SetAnchor(a Anchor) {
	l.anchor = a
}

func (l *Logger) chainLock(chain string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.chains[chain]
	if !ok {
		m = &sync.Mutex{}
		l.chains[chain] = m
	}
	return m
}

// Append writes r as the next entry of its chain. Appends to one chain are
// serialized in-process; a conflicting append from another process is retried
// against the new chain head.
func (l *Logger) Append(ctx context.Context, r Record) (*model.AuditLogEntry, error) {
	chain := ChainFor(r.PlanID, r.ExecutionID)
	lock := l.chainLock(chain)
	lock.Lock()
	defer lock.Unlock()

	if r.Actor == "" {
		r.Actor = model.ActorSystem
	}
	if r.ActorID == "" {
		r.ActorID = "remediation-engine"
	}
	if r.Severity == "" {
		r.Severity = model.SeverityInfo
	}

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		head, err := l.store.LastAuditEntry(ctx, chain)
		if err != nil {
			return nil, fmt.Errorf("read head of audit chain %s: %w", chain, err)
		}

		entry := &model.AuditLogEntry{
			Key:         uuid.NewString(),
			ChainID:     chain,
			Sequence:    1,
			PlanID:      r.PlanID,
			ExecutionID: r.ExecutionID,
			ActorType:   r.Actor,
			ActorID:     r.ActorID,
			Category:    r.Category,
			Severity:    r.Severity,
			PriorStatus: r.PriorStatus,
			NewStatus:   r.NewStatus,
			Message:     r.Message,
			Details:     r.Details,
			Timestamp:   l.now().UTC(),
			PrevHash:    GenesisHash,
			ObjType:     "AuditLogEntry",
		}
		if head != nil {
			entry.Sequence = head.Sequence + 1
			entry.PrevHash = head.EntryHash
		}
		entry.EntryHash = ComputeHash(entry)

		err = l.store.AppendAuditEntry(ctx, entry)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append to audit chain %s: %w", chain, err)
		}

		if l.anchor != nil {
			l.anchor.Anchor(ctx, entry)
		}
		return entry, nil
	}
	return nil, fmt.Errorf("append to audit chain %s: gave up after %d attempts: %w", chain, maxAppendAttempts, lastErr)
}

// ComputeHash returns the SHA-256 of the entry's content and PrevHash.
// EntryHash and the storage key are excluded.
func ComputeHash(e *model.AuditLogEntry) string {
	details := ""
	if len(e.Details) > 0 {
		// map keys are emitted sorted
		b, _ := json.Marshal(e.Details)
		details = string(b)
	}
	data := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%q|%s|%s|%s",
		e.ChainID,
		e.Sequence,
		e.PlanID,
		e.ExecutionID,
		e.ActorType,
		e.ActorID,
		e.Category,
		e.Severity,
		e.PriorStatus,
		e.NewStatus,
		e.Message,
		details,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyChain loads a chain and verifies it.
func (l *Logger) VerifyChain(ctx context.Context, chain string) (*model.AuditTrail, error) {
	entries, err := l.store.ListAuditEntries(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("list audit chain %s: %w", chain, err)
	}
	trail := Verify(chain, entries)
	if trail.TamperDetected {
		l.logger.Error("Audit chain verification failed",
			zap.String("chain_id", chain),
			zap.Int64("broken_at", trail.BrokenAt),
			zap.String("reason", trail.Reason))
	}
	return trail, nil
}

// Verify walks entries in sequence order and recomputes every hash.
func Verify(chain string, entries []*model.AuditLogEntry) *model.AuditTrail {
	sorted := append([]*model.AuditLogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	trail := &model.AuditTrail{ChainID: chain, Entries: sorted}
	fail := func(seq int64, reason string) *model.AuditTrail {
		trail.TamperDetected = true
		trail.BrokenAt = seq
		trail.Reason = reason
		return trail
	}

	prev := GenesisHash
	for i, e := range sorted {
		want := int64(i + 1)
		switch {
		case e.ChainID != chain:
			return fail(e.Sequence, "entry belongs to another chain")
		case e.Sequence != want:
			return fail(want, fmt.Sprintf("expected sequence %d, found %d", want, e.Sequence))
		case !equalHash(e.PrevHash, prev):
			return fail(e.Sequence, "previous hash does not link")
		case !equalHash(e.EntryHash, ComputeHash(e)):
			return fail(e.Sequence, "entry hash does not match content")
		}
		prev = e.EntryHash
	}
	return trail
}

func equalHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
