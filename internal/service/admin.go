package service

import (
	"context"

	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/ledger"
)

// CancelClaim withdraws a PENDING escrow and returns the asset to the
// registry authority.
func (s *Service) CancelClaim(ctx context.Context, caller iotago.Address, claimID, reason string) (*escrow.ClaimEscrow, error) {
	callerID := s.identity(caller)

	claim, err := s.release(ctx, claimID, func(tx *ledger.Tx, e *escrow.ClaimEscrow, registry *escrow.Registry) error {
		if !registry.IsAuthority(callerID) {
			return escrow.ErrNotAuthorized
		}

		return e.Cancel(reason, s.now())
	})
	s.emit(OpCancelClaim, callerID, registryIDOf(claim), claimID, claim, err)
	if err != nil {
		return nil, err
	}

	s.LogInfof("Claim %s cancelled", claimID)

	return claim, nil
}

// ExpireClaim materializes the expiry of an elapsed PENDING escrow and returns
// the asset to the registry authority. Anyone may call it; expiry is already
// in force before it runs.
func (s *Service) ExpireClaim(ctx context.Context, claimID string) (*escrow.ClaimEscrow, error) {
	claim, err := s.release(ctx, claimID, func(tx *ledger.Tx, e *escrow.ClaimEscrow, _ *escrow.Registry) error {
		if err := e.Expire(s.now()); err != nil {
			return err
		}
		tx.Increment(e.RegistryID, ledger.CounterExpired)

		return nil
	})
	s.emit(OpExpireClaim, "", registryIDOf(claim), claimID, claim, err)
	if err != nil {
		return nil, err
	}

	s.LogInfof("Claim %s expired", claimID)

	return claim, nil
}

// release runs transition on the escrow and, if it succeeds, moves the asset
// from escrow custody back to the authority in the same step.
func (s *Service) release(ctx context.Context, claimID string, transition func(*ledger.Tx, *escrow.ClaimEscrow, *escrow.Registry) error) (*escrow.ClaimEscrow, error) {
	var (
		claim     *escrow.ClaimEscrow
		authority string
		moved     bool
	)
	err := s.ledger.Update([]string{ledger.ClaimLock(claimID)}, func(tx *ledger.Tx) error {
		e, err := tx.Claim(claimID)
		if err != nil {
			return err
		}
		registry, err := tx.Registry(e.RegistryID)
		if err != nil {
			return err
		}
		if err := transition(tx, e, registry); err != nil {
			return err
		}
		if err := tx.PutClaim(e); err != nil {
			return err
		}
		claim = e
		authority = registry.Authority

		return s.moveAsset(ctx, e.Asset, custody.EscrowAccount(e.ID), authority, &moved)
	})
	if err != nil {
		if moved {
			s.compensate(ctx, claim.Asset, custody.EscrowAccount(claimID), authority)
		}
		return nil, err
	}

	return claim, nil
}

// ExtendClaimExpiry pushes the deadline of a PENDING escrow back by
// additionalHours. The attempt counter is left alone.
func (s *Service) ExtendClaimExpiry(_ context.Context, caller iotago.Address, claimID string, additionalHours uint32) (*escrow.ClaimEscrow, error) {
	callerID := s.identity(caller)

	var claim *escrow.ClaimEscrow
	err := s.ledger.Update([]string{ledger.ClaimLock(claimID)}, func(tx *ledger.Tx) error {
		e, err := tx.Claim(claimID)
		if err != nil {
			return err
		}
		registry, err := tx.Registry(e.RegistryID)
		if err != nil {
			return err
		}
		if !registry.IsAuthority(callerID) {
			return escrow.ErrNotAuthorized
		}
		if err := e.Extend(additionalHours, s.now()); err != nil {
			return err
		}
		claim = e

		return tx.PutClaim(e)
	})
	if err != nil {
		claim = nil
	}
	s.emit(OpExtendClaim, callerID, registryIDOf(claim), claimID, claim, err)
	if err != nil {
		return nil, err
	}

	s.LogInfof("Claim %s extended by %dh to %s", claimID, additionalHours, claim.ExpiresAt)

	return claim, nil
}

// PurgeExpiredTickets deletes tickets whose window has closed and returns how
// many were removed.
func (s *Service) PurgeExpiredTickets(ctx context.Context) (int, error) {
	now := s.now()

	var stale []string
	if err := s.ledger.ForEachTicket(func(t *escrow.ClaimTicket) bool {
		if t.Stale(now) {
			stale = append(stale, t.ID)
		}
		return ctx.Err() == nil
	}); err != nil {
		return 0, err
	}

	purged := 0
	for _, ticketID := range stale {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		removed := false
		if err := s.ledger.Update([]string{ledger.TicketLock(ticketID)}, func(tx *ledger.Tx) error {
			t, err := tx.Ticket(ticketID)
			if err != nil {
				// completed in the meantime
				return nil
			}
			if t.Stale(s.now()) {
				tx.DeleteTicket(ticketID)
				removed = true
			}
			return nil
		}); err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}

	if purged > 0 {
		s.LogDebugf("Purged %d stale claim tickets", purged)
	}

	return purged, nil
}
