// Package escrow holds the claim escrow state machine: registries, escrow
// records and the single-use tickets of the two-phase claim handshake.
// It performs no I/O; persistence and custody live in the ledger and
// custody packages.
package escrow

import (
	"time"
)

const (
	// DefaultMaxClaimAttempts bounds code guessing against a single escrow.
	DefaultMaxClaimAttempts = 5

	// TicketLifetime is how long a claim ticket stays redeemable.
	TicketLifetime = 10 * time.Minute
)

// Status is the stored lifecycle state of an escrow.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusClaimed   Status = "CLAIMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// AssetKind tags the escrowed asset.
type AssetKind string

const (
	AssetKindCollectible AssetKind = "collectible"
	AssetKindFungible    AssetKind = "fungible"
)

// AssetRef is the protocol's opaque reference to an escrowed asset handle.
type AssetRef struct {
	Kind AssetKind `json:"kind"`
	ID   string    `json:"id"`
	// Amount is only meaningful for fungible balances.
	Amount uint64 `json:"amount,omitempty"`
}

// VerificationKind selects the optional second factor of an escrow.
type VerificationKind string

const (
	VerificationNone              VerificationKind = ""
	VerificationPIN               VerificationKind = "pin"
	VerificationMerchantSignature VerificationKind = "merchant-signature"
)

// Display is descriptive metadata shown to the claimant.
type Display struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// RegistryParams configures a new registry.
type RegistryParams struct {
	MerchantName             string
	MerchantID               string
	DefaultExpiryHours       uint32
	RequireMerchantSignature bool
	MerchantPublicKey        []byte
}

// Registry is the per-merchant claim code index. The code index itself and the
// counters are stored as separate ledger records; see Stats.
type Registry struct {
	ID                       string    `json:"id"`
	Authority                string    `json:"authority"`
	MerchantName             string    `json:"merchant_name"`
	MerchantID               string    `json:"merchant_id"`
	DefaultExpiryHours       uint32    `json:"default_expiry_hours"`
	RequireMerchantSignature bool      `json:"require_merchant_signature"`
	MerchantPublicKey        []byte    `json:"merchant_public_key,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Stats are the monotonic registry counters.
type Stats struct {
	Created   uint64 `json:"total_claims_created"`
	Fulfilled uint64 `json:"total_claims_fulfilled"`
	Expired   uint64 `json:"total_claims_expired"`
}

// NewRegistry validates params and builds a registry owned by authority.
func NewRegistry(id, authority string, params RegistryParams, now time.Time) (*Registry, error) {
	if params.MerchantName == "" {
		return nil, Errorf(KindInvalidMetadata, "merchant name is required")
	}
	if params.DefaultExpiryHours == 0 {
		return nil, Errorf(KindInvalidMetadata, "default expiry must be positive")
	}
	if authority == "" {
		return nil, Errorf(KindInvalidMetadata, "authority is required")
	}

	r := &Registry{
		ID:           id,
		Authority:    authority,
		MerchantName: params.MerchantName,
		MerchantID:   params.MerchantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.ApplyPolicy(params.DefaultExpiryHours, params.RequireMerchantSignature, params.MerchantPublicKey, now); err != nil {
		return nil, err
	}

	return r, nil
}

// ApplyPolicy replaces the creation-time policy. Existing escrows keep the
// values they were created with.
func (r *Registry) ApplyPolicy(defaultExpiryHours uint32, requireSignature bool, publicKey []byte, now time.Time) error {
	if defaultExpiryHours == 0 {
		return Errorf(KindInvalidMetadata, "default expiry must be positive")
	}
	if requireSignature && len(publicKey) != 32 {
		return Errorf(KindInvalidMetadata, "merchant public key must be 32 bytes")
	}

	r.DefaultExpiryHours = defaultExpiryHours
	r.RequireMerchantSignature = requireSignature
	r.MerchantPublicKey = nil
	if requireSignature {
		r.MerchantPublicKey = append([]byte(nil), publicKey...)
	}
	r.UpdatedAt = now

	return nil
}

// IsAuthority reports whether caller may administer the registry.
func (r *Registry) IsAuthority(caller string) bool {
	return caller != "" && caller == r.Authority
}
