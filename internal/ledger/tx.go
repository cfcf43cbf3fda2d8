package ledger

import (
	"encoding/json"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/pkg/errors"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// Tx buffers the writes of one Update. Reads see the transaction's own
// writes first and fall back to committed state.
type Tx struct {
	ledger     *Ledger
	writes     map[string][]byte
	order      []string
	increments map[string]uint64
}

func newTx(l *Ledger) *Tx {
	return &Tx{
		ledger:     l,
		writes:     make(map[string][]byte),
		increments: make(map[string]uint64),
	}
}

func (tx *Tx) read(key []byte) ([]byte, bool, error) {
	if value, ok := tx.writes[string(key)]; ok {
		return value, value != nil, nil
	}

	value, err := tx.ledger.store.Get(key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read record")
	}

	return value, true, nil
}

func (tx *Tx) write(key, value []byte) {
	k := string(key)
	if _, seen := tx.writes[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = value
}

func (tx *Tx) put(key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	tx.write(key, value)

	return nil
}

func (tx *Tx) load(key []byte, v any, what string) error {
	value, ok, err := tx.read(key)
	if err != nil {
		return err
	}
	if !ok {
		return escrow.Errorf(escrow.KindNotFound, "%s not found", what)
	}

	if err := json.Unmarshal(value, v); err != nil {
		return errors.Wrapf(err, "corrupt %s record", what)
	}

	return nil
}

// Registry loads a registry.
func (tx *Tx) Registry(registryID string) (*escrow.Registry, error) {
	var r escrow.Registry
	if err := tx.load(registryKey(registryID), &r, "registry"); err != nil {
		return nil, err
	}

	return &r, nil
}

// PutRegistry stores a registry.
func (tx *Tx) PutRegistry(r *escrow.Registry) error {
	return tx.put(registryKey(r.ID), r)
}

// Claim loads an escrow.
func (tx *Tx) Claim(claimID string) (*escrow.ClaimEscrow, error) {
	var e escrow.ClaimEscrow
	if err := tx.load(claimKey(claimID), &e, "claim"); err != nil {
		return nil, err
	}

	return &e, nil
}

// PutClaim stores an escrow.
func (tx *Tx) PutClaim(e *escrow.ClaimEscrow) error {
	return tx.put(claimKey(e.ID), e)
}

// Ticket loads a ticket.
func (tx *Tx) Ticket(ticketID string) (*escrow.ClaimTicket, error) {
	var t escrow.ClaimTicket
	if err := tx.load(ticketKey(ticketID), &t, "ticket"); err != nil {
		return nil, err
	}

	return &t, nil
}

// PutTicket stores a ticket.
func (tx *Tx) PutTicket(t *escrow.ClaimTicket) error {
	return tx.put(ticketKey(t.ID), t)
}

// DeleteTicket consumes a ticket.
func (tx *Tx) DeleteTicket(ticketID string) {
	tx.write(ticketKey(ticketID), nil)
}

// InsertCode registers claimHash -> claimID. Index entries are never
// overwritten or removed, so a code can never be recycled.
func (tx *Tx) InsertCode(registryID, claimHash, claimID string) error {
	key := claimCodeKey(registryID, claimHash)

	_, exists, err := tx.read(key)
	if err != nil {
		return err
	}
	if exists {
		return escrow.ErrAlreadyExists
	}
	tx.write(key, []byte(claimID))

	return nil
}

// Increment adds one to a registry counter at commit time.
func (tx *Tx) Increment(registryID string, counter Counter) {
	tx.increments[string(counterKey(registryID, counter))]++
}
