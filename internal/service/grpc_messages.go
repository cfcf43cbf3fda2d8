package service

import (
	"time"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

type CreateRegistryMessage struct {
	MerchantName             string `json:"merchant_name"`
	MerchantID               string `json:"merchant_id"`
	DefaultExpiryHours       uint32 `json:"default_expiry_hours"`
	RequireMerchantSignature bool   `json:"require_merchant_signature"`
	MerchantPublicKey        []byte `json:"merchant_public_key,omitempty"`
}

type RegistryResponse struct {
	Registry *escrow.Registry `json:"registry"`
}

type CreateClaimMessage struct {
	RegistryID         string           `json:"registry_id"`
	ClaimCode          string           `json:"claim_code"`
	AssetKind          escrow.AssetKind `json:"asset_kind"`
	AssetID            string           `json:"asset_id"`
	AssetAmount        uint64           `json:"asset_amount,omitempty"`
	PurchaseReference  string           `json:"purchase_reference"`
	PurchaseAmountFiat uint64           `json:"purchase_amount_fiat"`
	FiatCurrency       string           `json:"fiat_currency"`
	Display            escrow.Display   `json:"display"`
	CustomExpiryHours  uint32           `json:"custom_expiry_hours,omitempty"`
	PIN                string           `json:"pin,omitempty"`
}

type InitiateClaimMessage struct {
	ClaimID   string `json:"claim_id"`
	ClaimCode string `json:"claim_code"`
	Proof     []byte `json:"proof,omitempty"`
}

type TicketResponse struct {
	TicketID  string    `json:"ticket_id"`
	ClaimID   string    `json:"claim_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CompleteClaimMessage struct {
	TicketID string `json:"ticket_id"`
}

type CancelClaimMessage struct {
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

type ExtendClaimMessage struct {
	ClaimID         string `json:"claim_id"`
	AdditionalHours uint32 `json:"additional_hours"`
}

type ClaimIDMessage struct {
	ClaimID string `json:"claim_id"`
}

type RegistryIDMessage struct {
	RegistryID string `json:"registry_id"`
}

type ClaimExistsMessage struct {
	RegistryID string `json:"registry_id"`
	ClaimCode  string `json:"claim_code"`
}

type ClaimResponse struct {
	Claim *ClaimView `json:"claim"`
}

type ClaimListResponse struct {
	Claims []*ClaimView `json:"claims"`
}

type StatsResponse struct {
	Stats escrow.Stats `json:"stats"`
}

type ClaimExistsResponse struct {
	Exists bool `json:"exists"`
}
