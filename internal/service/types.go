package service

import (
	"time"

	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
)

// ServiceConfig holds the configuration for the claim escrow service
type ServiceConfig struct {
	// DataDir holds the master key the claim digests are derived from.
	DataDir string

	// NetworkPrefix is the bech32 HRP identities are stored under.
	NetworkPrefix iotago.NetworkPrefix

	// TicketLifetime bounds the gap between InitiateClaim and CompleteClaim.
	TicketLifetime time.Duration

	// Clock replaces time.Now, mainly for tests.
	Clock func() time.Time
}

// CreateClaimRequest opens an escrow for an asset the caller owns.
type CreateClaimRequest struct {
	RegistryID         string
	ClaimCode          string
	Asset              custody.AssetHandle
	PurchaseReference  string
	PurchaseAmountFiat uint64
	FiatCurrency       string
	Display            escrow.Display

	// CustomExpiryHours overrides the registry default when non-zero.
	CustomExpiryHours uint32

	// PIN enables a PIN as second factor. Only its bcrypt hash is stored.
	PIN                  string
	VerificationMetadata string
}

// ClaimView is the read-only projection of an escrow handed to clients.
// It never contains the secret verification payload.
type ClaimView struct {
	ID                 string                  `json:"id"`
	RegistryID         string                  `json:"registry_id"`
	ClaimHash          string                  `json:"claim_hash"`
	Asset              escrow.AssetRef         `json:"asset"`
	Display            escrow.Display          `json:"display"`
	PurchaseReference  string                  `json:"purchase_reference"`
	PurchaseAmountFiat uint64                  `json:"purchase_amount_fiat"`
	FiatCurrency       string                  `json:"fiat_currency"`
	PurchasedAt        time.Time               `json:"purchased_at"`
	Status             escrow.Status           `json:"status"`
	EffectiveStatus    escrow.Status           `json:"effective_status"`
	Claimer            string                  `json:"claimer,omitempty"`
	ClaimedAt          time.Time               `json:"claimed_at"`
	ExpiresAt          time.Time               `json:"expires_at"`
	ClaimAttempts      uint32                  `json:"claim_attempts"`
	MaxClaimAttempts   uint32                  `json:"max_claim_attempts"`
	RemainingAttempts  uint32                  `json:"remaining_attempts"`
	VerificationKind   escrow.VerificationKind `json:"verification_kind,omitempty"`
	CancelReason       string                  `json:"cancel_reason,omitempty"`
}

func newClaimView(e *escrow.ClaimEscrow, now time.Time) *ClaimView {
	return &ClaimView{
		ID:                 e.ID,
		RegistryID:         e.RegistryID,
		ClaimHash:          e.ClaimHash,
		Asset:              e.Asset,
		Display:            e.Display,
		PurchaseReference:  e.PurchaseReference,
		PurchaseAmountFiat: e.PurchaseAmountFiat,
		FiatCurrency:       e.FiatCurrency,
		PurchasedAt:        e.PurchasedAt,
		Status:             e.Status,
		EffectiveStatus:    e.EffectiveStatus(now),
		Claimer:            e.Claimer,
		ClaimedAt:          e.ClaimedAt,
		ExpiresAt:          e.ExpiresAt,
		ClaimAttempts:      e.ClaimAttempts,
		MaxClaimAttempts:   e.MaxClaimAttempts,
		RemainingAttempts:  e.RemainingAttempts(),
		VerificationKind:   e.VerificationKind,
		CancelReason:       e.CancelReason,
	}
}
