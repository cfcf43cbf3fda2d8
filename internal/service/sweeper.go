package service

import (
	"context"
	"time"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// SweepResult summarizes one sweeper pass.
type SweepResult struct {
	Expired        int
	TicketsPurged  int
	PendingRemains int
}

// Sweep expires every elapsed PENDING escrow and purges stale tickets.
// Expiry is enforced lazily on every read and write, so skipping sweeps only
// delays when assets go back to their merchants.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	result := &SweepResult{}

	var elapsed []string
	if err := s.ledger.ForEachClaim(func(e *escrow.ClaimEscrow) bool {
		if e.Status == escrow.StatusPending {
			if e.EffectiveStatus(now) == escrow.StatusExpired {
				elapsed = append(elapsed, e.ID)
			} else {
				result.PendingRemains++
			}
		}
		return ctx.Err() == nil
	}); err != nil {
		return nil, err
	}

	for _, claimID := range elapsed {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, err := s.ExpireClaim(ctx, claimID); err != nil {
			if escrow.KindOf(err).Family() == escrow.KindInvalidMetadata {
				// cancelled, claimed or extended since the scan
				continue
			}
			s.LogWarnf("Failed to expire claim %s: %v", claimID, err)
			continue
		}
		result.Expired++
	}

	purged, err := s.PurgeExpiredTickets(ctx)
	result.TicketsPurged = purged
	if err != nil {
		return result, err
	}

	s.Events.Swept.Trigger(result)

	return result, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.LogErrorf("Claim sweep failed: %v", err)
				}
				continue
			}
			if result.Expired > 0 || result.TicketsPurged > 0 {
				s.LogInfof("Claim sweep: %d expired, %d tickets purged, %d pending", result.Expired, result.TicketsPurged, result.PendingRemains)
			}
		}
	}
}
