// Package security keeps a tamper evident audit trail of claim escrow
// activity. Entries are chained by hash so that rewriting or dropping a
// stored entry is detected by Verify.
package security

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/runtime/event"
	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"
	"golang.org/x/crypto/blake2b"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/service"
)

// AuditLogger records claim escrow operations in a hash chained trail.
type AuditLogger struct {
	*logger.WrappedLogger

	storage       AuditStorage
	buffer        chan *AuditEntry
	bufferSize    int
	flushInterval time.Duration
	now           func() time.Time

	// head is only touched by the worker once it is running.
	headSeq  uint64
	headHash string

	mu       sync.RWMutex
	stopped  bool
	stopChan chan struct{}
	doneChan chan struct{}

	Events struct {
		EntryLogged    *event.Event1[*AuditEntry]
		FlushCompleted *event.Event1[int]
	}
}

// AuditEntry is one audited operation. It never carries claim codes,
// their digests or PIN material.
type AuditEntry struct {
	Sequence   uint64        `json:"sequence"`
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Level      AuditLevel    `json:"level"`
	Category   AuditCategory `json:"category"`
	Action     string        `json:"action"`
	Actor      string        `json:"actor,omitempty"`
	RegistryID string        `json:"registry_id,omitempty"`
	ClaimID    string        `json:"claim_id,omitempty"`
	Result     AuditResult   `json:"result"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	// ClaimStatus and RemainingAttempts describe the escrow after the operation.
	ClaimStatus       escrow.Status `json:"claim_status,omitempty"`
	RemainingAttempts uint32        `json:"remaining_attempts"`
	PrevHash          string        `json:"prev_hash"`
	Hash              string        `json:"hash"`
}

// AuditLevel represents the severity level
type AuditLevel string

const (
	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelCritical AuditLevel = "critical"
)

// AuditCategory represents the category of audit event
type AuditCategory string

const (
	AuditCategoryRegistry   AuditCategory = "registry"
	AuditCategoryEscrow     AuditCategory = "escrow"
	AuditCategoryRedemption AuditCategory = "redemption"
	AuditCategoryAdmin      AuditCategory = "administration"
)

// AuditResult represents the result of an action
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultDenied  AuditResult = "denied"
)

// AuditConfig configures buffering of the audit logger.
type AuditConfig struct {
	BufferSize    int
	FlushInterval time.Duration
	Now           func() time.Time
}

// DefaultAuditConfig returns the buffering defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
	}
}

// NewAuditLogger resumes the chain stored in storage and starts the writer.
func NewAuditLogger(log *logger.Logger, storage AuditStorage, config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	headSeq, headHash, err := storage.Head(context.Background())
	if err != nil {
		return nil, err
	}

	al := &AuditLogger{
		WrappedLogger: logger.NewWrappedLogger(log),
		storage:       storage,
		buffer:        make(chan *AuditEntry, config.BufferSize),
		bufferSize:    config.BufferSize,
		flushInterval: config.FlushInterval,
		now:           now,
		headSeq:       headSeq,
		headHash:      headHash,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}

	al.Events.EntryLogged = event.New1[*AuditEntry]()
	al.Events.FlushCompleted = event.New1[int]()

	go al.worker()

	return al, nil
}

// Attach records every service operation. The returned function detaches
// the logger again.
func (al *AuditLogger) Attach(events *service.Events) (detach func()) {
	hook := events.Operation.Hook(al.LogOperation)

	return hook.Unhook
}

// LogOperation queues an entry describing ev.
func (al *AuditLogger) LogOperation(ev *service.OperationEvent) {
	entry := &AuditEntry{
		Timestamp:  ev.At,
		Level:      AuditLevelInfo,
		Category:   categoryOf(ev.Operation),
		Action:     string(ev.Operation),
		Actor:      ev.Caller,
		RegistryID: ev.RegistryID,
		ClaimID:    ev.ClaimID,
		Result:     AuditResultSuccess,
	}
	if ev.Claim != nil {
		entry.ClaimStatus = ev.Claim.Status
		entry.RemainingAttempts = ev.Claim.RemainingAttempts()
	}

	if ev.Err != nil {
		kind := escrow.KindOf(ev.Err)
		entry.ErrorKind = kind.String()
		entry.Result = AuditResultFailure
		entry.Level = AuditLevelWarning

		switch kind {
		case escrow.KindNotAuthorized:
			entry.Result = AuditResultDenied
		case escrow.KindAttemptsExhausted:
			entry.Level = AuditLevelCritical
		case escrow.KindUnknown:
			entry.Level = AuditLevelCritical
		}
	}

	al.log(entry)
}

func categoryOf(op service.Operation) AuditCategory {
	switch op {
	case service.OpCreateRegistry, service.OpUpdatePolicy:
		return AuditCategoryRegistry
	case service.OpInitiateClaim, service.OpCompleteClaim:
		return AuditCategoryRedemption
	case service.OpCancelClaim, service.OpExtendClaim, service.OpExpireClaim:
		return AuditCategoryAdmin
	default:
		return AuditCategoryEscrow
	}
}

// log queues an audit entry. Sequence and hashes are assigned by the worker
// so the chain has no gaps even when entries are dropped.
func (al *AuditLogger) log(entry *AuditEntry) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if al.stopped {
		return
	}

	entry.ID = uuid.NewString()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = al.now()
	}

	select {
	case al.buffer <- entry:
	default:
		al.LogWarnf("audit buffer full, dropping %s entry for claim %s", entry.Action, entry.ClaimID)
	}
}

// chain links entry to the current head.
func (al *AuditLogger) chain(entry *AuditEntry) {
	al.headSeq++
	entry.Sequence = al.headSeq
	entry.PrevHash = al.headHash
	entry.Hash = calculateHash(entry)
	al.headHash = entry.Hash
}

// calculateHash is blake2b-256 over the previous hash and the entry fields.
func calculateHash(entry *AuditEntry) string {
	ms := marshalutil.New(256)
	writeString(ms, entry.PrevHash)
	ms.WriteUint64(entry.Sequence)
	writeString(ms, entry.ID)
	ms.WriteInt64(entry.Timestamp.UnixNano())
	for _, field := range []string{
		string(entry.Level),
		string(entry.Category),
		entry.Action,
		entry.Actor,
		entry.RegistryID,
		entry.ClaimID,
		string(entry.Result),
		entry.ErrorKind,
		string(entry.ClaimStatus),
	} {
		writeString(ms, field)
	}
	ms.WriteUint32(entry.RemainingAttempts)

	sum := blake2b.Sum256(ms.Bytes())

	return hex.EncodeToString(sum[:])
}

func writeString(ms *marshalutil.MarshalUtil, s string) {
	ms.WriteUint16(uint16(len(s)))
	ms.WriteBytes([]byte(s))
}

// worker batches queued entries and writes them to storage.
func (al *AuditLogger) worker() {
	defer close(al.doneChan)

	ticker := time.NewTicker(al.flushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, al.bufferSize)

	for {
		select {
		case entry := <-al.buffer:
			batch = append(batch, entry)
			if len(batch) >= al.bufferSize {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.bufferSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.bufferSize)
			}

		case <-al.stopChan:
			// nothing is queued after stopped is set
			for len(al.buffer) > 0 {
				batch = append(batch, <-al.buffer)
			}
			al.flush(batch)
			return
		}
	}
}

// flush chains and stores entries. On a storage failure the head is rolled
// back so the next batch continues from the last stored entry.
func (al *AuditLogger) flush(entries []*AuditEntry) {
	if len(entries) == 0 {
		return
	}

	prevSeq, prevHash := al.headSeq, al.headHash
	for _, entry := range entries {
		al.chain(entry)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := al.storage.Store(ctx, entries); err != nil {
		al.headSeq, al.headHash = prevSeq, prevHash
		al.LogErrorf("Failed to store %d audit entries: %v", len(entries), err)
		return
	}

	for _, entry := range entries {
		al.Events.EntryLogged.Trigger(entry)
	}
	al.Events.FlushCompleted.Trigger(len(entries))
	al.LogDebugf("Flushed %d audit entries", len(entries))
}

// Query queries stored audit entries
func (al *AuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	return al.storage.Query(ctx, filter)
}

// Stop stops accepting entries and returns once the queued ones are stored.
func (al *AuditLogger) Stop() {
	al.mu.Lock()
	if al.stopped {
		al.mu.Unlock()
		<-al.doneChan
		return
	}
	al.stopped = true
	al.mu.Unlock()

	close(al.stopChan)
	<-al.doneChan
}
