package security

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"
	"github.com/pkg/errors"

	"github.com/dueldanov/claimescrow/pkg/common"
)

var (
	// ErrChainBroken is returned by Verify when the stored trail was altered.
	ErrChainBroken = errors.New("audit chain broken")
)

// realm isolates the audit trail inside a shared store.
var realm = []byte{common.StorePrefixAudit}

const (
	storePrefixEntry      byte = 0
	storePrefixClaimIndex byte = 1
	storePrefixHead       byte = 2
)

// AuditStorage persists chained audit entries.
type AuditStorage interface {
	Store(ctx context.Context, entries []*AuditEntry) error
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error)
	// Head returns the sequence and hash of the last stored entry.
	Head(ctx context.Context) (uint64, string, error)
}

// AuditFilter for querying audit logs. Results are ordered by sequence.
type AuditFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	Level      []AuditLevel
	Category   []AuditCategory
	Actor      string
	RegistryID string
	ClaimID    string
	Action     string
	Result     []AuditResult
	Limit      int
	Offset     int
}

// KVAuditStorage keeps the audit trail in a kvstore realm with a per claim index.
type KVAuditStorage struct {
	store kvstore.KVStore
	mu    sync.RWMutex
}

// NewKVAuditStorage opens the audit realm of store.
func NewKVAuditStorage(store kvstore.KVStore) (*KVAuditStorage, error) {
	auditStore, err := store.WithRealm(realm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audit realm")
	}

	return &KVAuditStorage{store: auditStore}, nil
}

func entryKey(seq uint64) []byte {
	return marshalutil.New(9).WriteByte(storePrefixEntry).WriteUint64(seq).Bytes()
}

func claimIndexPrefix(claimID string) []byte {
	ms := marshalutil.New(3 + len(claimID))
	ms.WriteByte(storePrefixClaimIndex)
	ms.WriteUint16(uint16(len(claimID)))
	ms.WriteBytes([]byte(claimID))

	return ms.Bytes()
}

func claimIndexKey(claimID string, seq uint64) []byte {
	prefix := claimIndexPrefix(claimID)

	return marshalutil.New(len(prefix) + 8).WriteBytes(prefix).WriteUint64(seq).Bytes()
}

// Store writes entries and the new head in one batch.
func (s *KVAuditStorage) Store(_ context.Context, entries []*AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.store.Batched()
	if err != nil {
		return errors.Wrap(err, "failed to open batch")
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			batch.Cancel()
			return errors.Wrapf(err, "failed to encode audit entry %d", entry.Sequence)
		}
		if err := batch.Set(entryKey(entry.Sequence), data); err != nil {
			batch.Cancel()
			return errors.Wrap(err, "failed to stage audit entry")
		}
		if entry.ClaimID == "" {
			continue
		}
		if err := batch.Set(claimIndexKey(entry.ClaimID, entry.Sequence), entryKey(entry.Sequence)); err != nil {
			batch.Cancel()
			return errors.Wrap(err, "failed to stage audit index")
		}
	}

	last := entries[len(entries)-1]
	head := marshalutil.New(8 + len(last.Hash)).WriteUint64(last.Sequence).WriteBytes([]byte(last.Hash)).Bytes()
	if err := batch.Set([]byte{storePrefixHead}, head); err != nil {
		batch.Cancel()
		return errors.Wrap(err, "failed to stage audit head")
	}

	return errors.Wrap(batch.Commit(), "failed to commit audit entries")
}

// Head returns 0 and an empty hash for an empty trail.
func (s *KVAuditStorage) Head(_ context.Context) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.store.Get([]byte{storePrefixHead})
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to read audit head")
	}

	ms := marshalutil.New(value)
	seq, err := ms.ReadUint64()
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to decode audit head")
	}
	hash, err := ms.ReadBytes(len(value) - 8)
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to decode audit head")
	}

	return seq, string(hash), nil
}

// Query returns the entries matching filter.
func (s *KVAuditStorage) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if filter == nil {
		filter = &AuditFilter{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		entries []*AuditEntry
		err     error
	)
	if filter.ClaimID != "" {
		entries, err = s.claimEntries(filter.ClaimID)
	} else {
		entries, err = s.allEntries()
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	results := make([]*AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			results = append(results, entry)
		}
	}

	start := filter.Offset
	if start > len(results) {
		start = len(results)
	}
	end := start + filter.Limit
	if end > len(results) || filter.Limit == 0 {
		end = len(results)
	}

	return results[start:end], nil
}

func (s *KVAuditStorage) allEntries() ([]*AuditEntry, error) {
	var (
		entries   []*AuditEntry
		decodeErr error
	)
	if err := s.store.Iterate([]byte{storePrefixEntry}, func(_ kvstore.Key, value kvstore.Value) bool {
		entry := &AuditEntry{}
		if decodeErr = json.Unmarshal(value, entry); decodeErr != nil {
			return false
		}
		entries = append(entries, entry)
		return true
	}); err != nil {
		return nil, errors.Wrap(err, "failed to iterate audit entries")
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "failed to decode audit entry")
	}

	return entries, nil
}

func (s *KVAuditStorage) claimEntries(claimID string) ([]*AuditEntry, error) {
	var keys [][]byte
	if err := s.store.Iterate(claimIndexPrefix(claimID), func(_ kvstore.Key, value kvstore.Value) bool {
		keys = append(keys, append([]byte{}, value...))
		return true
	}); err != nil {
		return nil, errors.Wrap(err, "failed to iterate audit index")
	}

	entries := make([]*AuditEntry, 0, len(keys))
	for _, key := range keys {
		value, err := s.store.Get(key)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read indexed audit entry")
		}
		entry := &AuditEntry{}
		if err := json.Unmarshal(value, entry); err != nil {
			return nil, errors.Wrap(err, "failed to decode audit entry")
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// matchesFilter checks if an entry matches the filter
func matchesFilter(entry *AuditEntry, filter *AuditFilter) bool {
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}

	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}

	if len(filter.Level) > 0 && !contains(filter.Level, entry.Level) {
		return false
	}

	if len(filter.Category) > 0 && !contains(filter.Category, entry.Category) {
		return false
	}

	if filter.Actor != "" && entry.Actor != filter.Actor {
		return false
	}

	if filter.RegistryID != "" && entry.RegistryID != filter.RegistryID {
		return false
	}

	if filter.ClaimID != "" && entry.ClaimID != filter.ClaimID {
		return false
	}

	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}

	if len(filter.Result) > 0 && !contains(filter.Result, entry.Result) {
		return false
	}

	return true
}

// contains checks if a slice contains an element
func contains[T comparable](slice []T, item T) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}

	return false
}

// Verify recomputes the chain over every stored entry.
func (al *AuditLogger) Verify(ctx context.Context) error {
	entries, err := al.storage.Query(ctx, &AuditFilter{})
	if err != nil {
		return err
	}
	headSeq, headHash, err := al.storage.Head(ctx)
	if err != nil {
		return err
	}

	var prevHash string
	for i, entry := range entries {
		if entry.Sequence != uint64(i+1) {
			return errors.Wrapf(ErrChainBroken, "expected entry %d, found %d", i+1, entry.Sequence)
		}
		if entry.PrevHash != prevHash {
			return errors.Wrapf(ErrChainBroken, "entry %d does not link to its predecessor", entry.Sequence)
		}
		if calculateHash(entry) != entry.Hash {
			return errors.Wrapf(ErrChainBroken, "entry %d was modified", entry.Sequence)
		}
		prevHash = entry.Hash
	}

	if headSeq != uint64(len(entries)) || headHash != prevHash {
		return errors.Wrapf(ErrChainBroken, "head %d does not match the last entry", headSeq)
	}

	return nil
}
