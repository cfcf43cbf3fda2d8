package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := New(mapdb.NewMapDB())
	require.NoError(t, err)

	return l
}

func testRegistry() *escrow.Registry {
	return &escrow.Registry{
		ID:                 "reg-1",
		Authority:          "merchant",
		MerchantName:       "Corner Shop",
		DefaultExpiryHours: 24,
	}
}

func TestLedger_CommitAndRead(t *testing.T) {
	l := newTestLedger(t)

	err := l.Update([]string{RegistryLock("reg-1")}, func(tx *Tx) error {
		require.NoError(t, tx.PutRegistry(testRegistry()))

		// Reads inside the transaction see its own writes
		r, err := tx.Registry("reg-1")
		require.NoError(t, err)
		require.Equal(t, "Corner Shop", r.MerchantName)

		return nil
	})
	require.NoError(t, err)

	r, err := l.Registry("reg-1")
	require.NoError(t, err)
	require.Equal(t, "merchant", r.Authority)

	_, err = l.Registry("missing")
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestLedger_AbortDiscardsWrites(t *testing.T) {
	l := newTestLedger(t)
	boom := errors.New("boom")

	err := l.Update(nil, func(tx *Tx) error {
		require.NoError(t, tx.PutRegistry(testRegistry()))
		require.NoError(t, tx.InsertCode("reg-1", "digest", "claim-1"))
		tx.Increment("reg-1", CounterCreated)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.Registry("reg-1")
	require.ErrorIs(t, err, escrow.ErrNotFound)

	_, found, err := l.LookupCode("reg-1", "digest")
	require.NoError(t, err)
	require.False(t, found)

	stats, err := l.Stats("reg-1")
	require.NoError(t, err)
	require.Zero(t, stats.Created)
}

func TestLedger_CodeIndexIsInsertOnly(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Update(nil, func(tx *Tx) error {
		return tx.InsertCode("reg-1", "digest", "claim-1")
	}))

	err := l.Update(nil, func(tx *Tx) error {
		return tx.InsertCode("reg-1", "digest", "claim-2")
	})
	require.ErrorIs(t, err, escrow.ErrAlreadyExists)

	id, found, err := l.LookupCode("reg-1", "digest")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "claim-1", id)

	// Same digest in another registry is independent
	require.NoError(t, l.Update(nil, func(tx *Tx) error {
		return tx.InsertCode("reg-2", "digest", "claim-3")
	}))

	ids, err := l.ClaimIDs("reg-1")
	require.NoError(t, err)
	require.Equal(t, []string{"claim-1"}, ids)
}

func TestLedger_TicketLifecycle(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()
	ticket := escrow.NewClaimTicket("t-1", "claim-1", "alice", "vh", now, 0)

	require.NoError(t, l.Update(nil, func(tx *Tx) error {
		return tx.PutTicket(ticket)
	}))

	stored, err := l.Ticket("t-1")
	require.NoError(t, err)
	require.Equal(t, "alice", stored.Claimer)

	require.NoError(t, l.Update([]string{TicketLock("t-1")}, func(tx *Tx) error {
		tx.DeleteTicket("t-1")
		_, err := tx.Ticket("t-1")
		require.ErrorIs(t, err, escrow.ErrNotFound)
		return nil
	}))

	_, err = l.Ticket("t-1")
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestLedger_ConcurrentIncrementsCommute(t *testing.T) {
	l := newTestLedger(t)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			// Distinct record locks: only the counter is shared
			err := l.Update([]string{ClaimLock(fmt.Sprintf("claim-%d", i))}, func(tx *Tx) error {
				tx.Increment("reg-1", CounterCreated)
				tx.Increment("reg-1", CounterFulfilled)
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := l.Stats("reg-1")
	require.NoError(t, err)
	require.EqualValues(t, workers, stats.Created)
	require.EqualValues(t, workers, stats.Fulfilled)
	require.Zero(t, stats.Expired)
}

func TestLedger_SameRecordSerialized(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Update(nil, func(tx *Tx) error {
		return tx.PutClaim(&escrow.ClaimEscrow{ID: "claim-1", Status: escrow.StatusPending, MaxClaimAttempts: 100})
	}))

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, l.Update([]string{ClaimLock("claim-1")}, func(tx *Tx) error {
				e, err := tx.Claim("claim-1")
				if err != nil {
					return err
				}
				e.ClaimAttempts++
				return tx.PutClaim(e)
			}))
		}()
	}
	wg.Wait()

	e, err := l.Claim("claim-1")
	require.NoError(t, err)
	require.EqualValues(t, workers, e.ClaimAttempts)
}

func TestDedupSorted(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, dedupSorted([]string{"c", "a", "b", "a", "c"}))
	require.Empty(t, dedupSorted(nil))
}
