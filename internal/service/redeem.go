package service

import (
	"context"

	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/crypto"
	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/ledger"
)

// errCodeMismatch is returned for a wrong claim code. It carries no detail
// about why the code did not match.
var errCodeMismatch = escrow.Errorf(escrow.KindInvalidMetadata, "invalid claim code")

// InitiateClaim is the first phase of redemption. The attempt cap is checked
// first, then the code, then liveness. Every attempt against a live escrow is
// counted and persisted, including wrong codes and failed second factors. On
// success the caller receives a ticket bound to them which CompleteClaim
// redeems. No asset moves in this phase.
func (s *Service) InitiateClaim(ctx context.Context, caller iotago.Address, claimID, code string, proof []byte) (*escrow.ClaimTicket, error) {
	callerID := s.identity(caller)

	var (
		ticket   *escrow.ClaimTicket
		snapshot *escrow.ClaimEscrow
		rejected error
	)
	err := s.ledger.Update([]string{ledger.ClaimLock(claimID)}, func(tx *ledger.Tx) error {
		if callerID == "" {
			return escrow.Errorf(escrow.KindNotAuthorized, "claimant identity is required")
		}

		claim, err := tx.Claim(claimID)
		if err != nil {
			return err
		}

		now := s.now()
		snapshot = claim
		if claim.RemainingAttempts() == 0 {
			return escrow.ErrAttemptsExhausted
		}

		// A wrong code gets the same answer whatever state the escrow is
		// in. It only counts against escrows that are still live.
		if !crypto.Equal(claim.ClaimHash, s.hasher.ClaimDigest(claim.RegistryID, code)) {
			rejected = errCodeMismatch
			if claim.RegisterAttempt(now) != nil {
				return nil
			}
			return tx.PutClaim(claim)
		}

		if err := claim.RegisterAttempt(now); err != nil {
			return err
		}

		// From here on the attempt is spent: failures are committed and
		// reported through rejected.
		if err := s.factors.Verify(ctx, claim, callerID, proof); err != nil {
			rejected = err
			return tx.PutClaim(claim)
		}

		t := escrow.NewClaimTicket(
			newID(),
			claim.ID,
			callerID,
			s.hasher.VerificationHash(claim.ClaimHash, callerID),
			now,
			s.config.TicketLifetime,
		)
		if err := tx.PutTicket(t); err != nil {
			return err
		}
		ticket = t

		return tx.PutClaim(claim)
	})
	if err == nil {
		err = rejected
	}

	s.emit(OpInitiateClaim, callerID, registryIDOf(snapshot), claimID, snapshot, err)
	if err != nil {
		if snapshot != nil {
			s.LogWarnf("Rejected claim attempt %d/%d on %s: %v", snapshot.ClaimAttempts, snapshot.MaxClaimAttempts, claimID, err)
		}
		return nil, err
	}

	s.LogDebugf("Issued ticket for claim %s, %d attempts left", claimID, snapshot.RemainingAttempts())

	return ticket, nil
}

// CompleteClaim redeems a ticket: the escrow becomes CLAIMED by the caller,
// the ticket is consumed and the asset is released to the caller, all as one
// step. Concurrent completions of one escrow serialize and exactly one wins.
func (s *Service) CompleteClaim(ctx context.Context, caller iotago.Address, ticketID string) (*escrow.ClaimEscrow, error) {
	callerID := s.identity(caller)

	// Resolve the escrow first so both record locks can be taken together.
	pending, err := s.ledger.Ticket(ticketID)
	if err != nil {
		s.emit(OpCompleteClaim, callerID, "", "", nil, err)
		return nil, err
	}
	claimID := pending.ClaimEscrowID

	var (
		claim    *escrow.ClaimEscrow
		rejected error
		moved    bool
	)
	err = s.ledger.Update([]string{ledger.TicketLock(ticketID), ledger.ClaimLock(claimID)}, func(tx *ledger.Tx) error {
		ticket, err := tx.Ticket(ticketID)
		if err != nil {
			// consumed by a concurrent completion
			return err
		}

		now := s.now()
		if err := ticket.Authorize(claimID, callerID, now); err != nil {
			if ticket.Claimer == callerID && ticket.Stale(now) {
				// the owner can never use it again
				tx.DeleteTicket(ticketID)
				rejected = err
				return nil
			}
			return err
		}

		e, err := tx.Claim(claimID)
		if err != nil {
			return err
		}
		if !crypto.Equal(ticket.VerificationHash, s.hasher.VerificationHash(e.ClaimHash, callerID)) {
			return escrow.Errorf(escrow.KindInvalidMetadata, "ticket does not match claim")
		}
		if err := e.Claim(callerID, now); err != nil {
			return err
		}

		if err := tx.PutClaim(e); err != nil {
			return err
		}
		tx.DeleteTicket(ticketID)
		tx.Increment(e.RegistryID, ledger.CounterFulfilled)
		claim = e

		return s.moveAsset(ctx, e.Asset, custody.EscrowAccount(e.ID), callerID, &moved)
	})
	if err != nil {
		if moved {
			s.compensate(ctx, claim.Asset, custody.EscrowAccount(claimID), callerID)
		}
		s.emit(OpCompleteClaim, callerID, "", claimID, nil, err)
		return nil, err
	}
	if rejected != nil {
		s.emit(OpCompleteClaim, callerID, "", claimID, nil, rejected)
		return nil, rejected
	}

	s.emit(OpCompleteClaim, callerID, claim.RegistryID, claimID, claim, nil)

	s.LogInfof("Claim %s fulfilled", claim.ID)

	return claim, nil
}

func registryIDOf(claim *escrow.ClaimEscrow) string {
	if claim == nil {
		return ""
	}

	return claim.RegistryID
}
