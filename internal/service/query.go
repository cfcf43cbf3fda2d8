package service

import (
	"context"
	"sort"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// GetClaim returns an escrow record as stored. Use ClaimView for the status
// a client should see.
func (s *Service) GetClaim(_ context.Context, claimID string) (*escrow.ClaimEscrow, error) {
	return s.ledger.Claim(claimID)
}

// GetClaimByCode resolves a claim code inside a registry.
func (s *Service) GetClaimByCode(_ context.Context, registryID, code string) (*escrow.ClaimEscrow, error) {
	if code == "" {
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "claim code is required")
	}

	claimID, found, err := s.ledger.LookupCode(registryID, s.hasher.ClaimDigest(registryID, code))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, escrow.Errorf(escrow.KindNotFound, "claim not found")
	}

	return s.ledger.Claim(claimID)
}

// ClaimView returns the client projection of an escrow, effective status
// and remaining attempts included.
func (s *Service) ClaimView(_ context.Context, claimID string) (*ClaimView, error) {
	claim, err := s.ledger.Claim(claimID)
	if err != nil {
		return nil, err
	}

	return newClaimView(claim, s.now()), nil
}

// ListClaims returns every escrow of a registry, oldest first.
func (s *Service) ListClaims(_ context.Context, registryID string) ([]*ClaimView, error) {
	if _, err := s.ledger.Registry(registryID); err != nil {
		return nil, err
	}

	ids, err := s.ledger.ClaimIDs(registryID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]*ClaimView, 0, len(ids))
	for _, id := range ids {
		claim, err := s.ledger.Claim(id)
		if err != nil {
			return nil, err
		}
		views = append(views, newClaimView(claim, now))
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].PurchasedAt.Equal(views[j].PurchasedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].PurchasedAt.Before(views[j].PurchasedAt)
	})

	return views, nil
}
