package escrow

import (
	"time"
)

// ClaimTicket binds one claim attempt to one claimant. It is consumed by the
// completion step and can never be redeemed twice.
type ClaimTicket struct {
	ID               string    `json:"id"`
	ClaimEscrowID    string    `json:"claim_escrow_id"`
	Claimer          string    `json:"claimer"`
	VerificationHash string    `json:"verification_hash"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// NewClaimTicket mints a ticket valid for lifetime.
func NewClaimTicket(id, escrowID, claimer, verificationHash string, now time.Time, lifetime time.Duration) *ClaimTicket {
	if lifetime <= 0 {
		lifetime = TicketLifetime
	}

	return &ClaimTicket{
		ID:               id,
		ClaimEscrowID:    escrowID,
		Claimer:          claimer,
		VerificationHash: verificationHash,
		CreatedAt:        now,
		ExpiresAt:        now.Add(lifetime),
	}
}

// Stale reports whether the ticket window has closed.
func (t *ClaimTicket) Stale(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Authorize checks that caller may redeem the ticket against escrowID at now.
// All mismatches share one error so a probing caller learns nothing.
func (t *ClaimTicket) Authorize(escrowID, caller string, now time.Time) error {
	if t.ClaimEscrowID != escrowID || t.Claimer != caller {
		return Errorf(KindInvalidMetadata, "ticket does not match claim")
	}
	if t.Stale(now) {
		return Errorf(KindInvalidMetadata, "ticket has expired")
	}

	return nil
}
