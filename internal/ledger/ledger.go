// Package ledger persists registries, escrows and tickets in a kvstore and
// provides the transaction semantics the claim protocol relies on: every
// Update applies all of its writes or none of them, updates touching the same
// record are serialized, and registry counters are commutative increments that
// never force two escrows of one registry to wait for each other.
package ledger

import (
	"encoding/json"
	"sync"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/pkg/errors"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/pkg/common"
)

// realm isolates claim escrow records inside a shared store.
var realm = []byte{common.StorePrefixLedger}

// Ledger is the transactional claim escrow store.
type Ledger struct {
	store kvstore.KVStore
	locks *keyLocks

	// commitMu orders batch commits so counter increments read the latest value.
	commitMu sync.Mutex
}

// New creates a ledger on top of store.
func New(store kvstore.KVStore) (*Ledger, error) {
	claimStore, err := store.WithRealm(realm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open claim escrow realm")
	}

	return &Ledger{
		store: claimStore,
		locks: newKeyLocks(),
	}, nil
}

// Update runs fn as one transaction while holding the named record locks.
// Writes become visible only if fn returns nil and the batch commits.
func (l *Ledger) Update(lockNames []string, fn func(tx *Tx) error) error {
	release := l.locks.acquire(lockNames)
	defer release()

	tx := newTx(l)
	if err := fn(tx); err != nil {
		return err
	}

	return l.commit(tx)
}

func (l *Ledger) commit(tx *Tx) error {
	if len(tx.writes) == 0 && len(tx.increments) == 0 {
		return nil
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	batch, err := l.store.Batched()
	if err != nil {
		return errors.Wrap(err, "failed to open batch")
	}

	for _, key := range tx.order {
		value := tx.writes[key]
		if value == nil {
			err = batch.Delete([]byte(key))
		} else {
			err = batch.Set([]byte(key), value)
		}
		if err != nil {
			batch.Cancel()
			return errors.Wrap(err, "failed to stage write")
		}
	}

	for key, delta := range tx.increments {
		current, err := l.counter([]byte(key))
		if err != nil {
			batch.Cancel()
			return err
		}
		if err := batch.Set([]byte(key), encodeCounter(current+delta)); err != nil {
			batch.Cancel()
			return errors.Wrap(err, "failed to stage counter")
		}
	}

	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit batch")
	}

	return nil
}

func (l *Ledger) counter(key []byte) (uint64, error) {
	value, err := l.store.Get(key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read counter")
	}

	v, err := decodeCounter(value)
	if err != nil {
		return 0, errors.Wrap(err, "corrupt counter")
	}

	return v, nil
}

// Registry returns the committed registry record.
func (l *Ledger) Registry(registryID string) (*escrow.Registry, error) {
	var r escrow.Registry
	if err := l.load(registryKey(registryID), &r, "registry"); err != nil {
		return nil, err
	}

	return &r, nil
}

// Claim returns the committed escrow record.
func (l *Ledger) Claim(claimID string) (*escrow.ClaimEscrow, error) {
	var e escrow.ClaimEscrow
	if err := l.load(claimKey(claimID), &e, "claim"); err != nil {
		return nil, err
	}

	return &e, nil
}

// Ticket returns a committed, not yet consumed ticket.
func (l *Ledger) Ticket(ticketID string) (*escrow.ClaimTicket, error) {
	var t escrow.ClaimTicket
	if err := l.load(ticketKey(ticketID), &t, "ticket"); err != nil {
		return nil, err
	}

	return &t, nil
}

// LookupCode resolves a claim digest inside a registry.
func (l *Ledger) LookupCode(registryID, claimHash string) (string, bool, error) {
	value, err := l.store.Get(claimCodeKey(registryID, claimHash))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to read claim index")
	}

	return string(value), true, nil
}

// Stats returns the committed registry counters.
func (l *Ledger) Stats(registryID string) (escrow.Stats, error) {
	var stats escrow.Stats
	var err error

	if stats.Created, err = l.counter(counterKey(registryID, CounterCreated)); err != nil {
		return stats, err
	}
	if stats.Fulfilled, err = l.counter(counterKey(registryID, CounterFulfilled)); err != nil {
		return stats, err
	}
	if stats.Expired, err = l.counter(counterKey(registryID, CounterExpired)); err != nil {
		return stats, err
	}

	return stats, nil
}

// ClaimIDs lists the escrow IDs registered in a registry, in no particular order.
func (l *Ledger) ClaimIDs(registryID string) ([]string, error) {
	var ids []string

	if err := l.store.Iterate(registryScope(StorePrefixClaimCode, registryID), func(_ kvstore.Key, value kvstore.Value) bool {
		ids = append(ids, string(value))
		return true
	}); err != nil {
		return nil, errors.Wrap(err, "failed to iterate claim index")
	}

	return ids, nil
}

// ForEachClaim visits every stored escrow until fn returns false. fn must not
// call Update; collect IDs first and act afterwards.
func (l *Ledger) ForEachClaim(fn func(*escrow.ClaimEscrow) bool) error {
	var decodeErr error

	if err := l.store.Iterate([]byte{StorePrefixClaim}, func(_ kvstore.Key, value kvstore.Value) bool {
		var e escrow.ClaimEscrow
		if err := json.Unmarshal(value, &e); err != nil {
			decodeErr = errors.Wrap(err, "corrupt claim record")
			return false
		}
		return fn(&e)
	}); err != nil {
		return errors.Wrap(err, "failed to iterate claims")
	}

	return decodeErr
}

// ForEachTicket visits every outstanding ticket until fn returns false.
func (l *Ledger) ForEachTicket(fn func(*escrow.ClaimTicket) bool) error {
	var decodeErr error

	if err := l.store.Iterate([]byte{StorePrefixTicket}, func(_ kvstore.Key, value kvstore.Value) bool {
		var t escrow.ClaimTicket
		if err := json.Unmarshal(value, &t); err != nil {
			decodeErr = errors.Wrap(err, "corrupt ticket record")
			return false
		}
		return fn(&t)
	}); err != nil {
		return errors.Wrap(err, "failed to iterate tickets")
	}

	return decodeErr
}

func (l *Ledger) load(key []byte, v any, what string) error {
	value, err := l.store.Get(key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return escrow.Errorf(escrow.KindNotFound, "%s not found", what)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", what)
	}

	if err := json.Unmarshal(value, v); err != nil {
		return errors.Wrapf(err, "corrupt %s record", what)
	}

	return nil
}
