package escrow

import (
	"time"
)

// ClaimParams carries everything needed to open an escrow.
type ClaimParams struct {
	ClaimHash          string
	Asset              AssetRef
	PurchaseReference  string
	PurchaseAmountFiat uint64
	FiatCurrency       string
	Display            Display

	// CustomExpiryHours overrides the registry default when non-zero.
	CustomExpiryHours uint32

	VerificationKind     VerificationKind
	SecretVerification   string
	VerificationMetadata string

	// MerchantPublicKey is the key merchant signatures are checked against
	// for the lifetime of the escrow.
	MerchantPublicKey []byte
}

// ClaimEscrow is one pending, claimed, expired or cancelled redemption.
type ClaimEscrow struct {
	ID         string `json:"id"`
	RegistryID string `json:"registry_id"`

	ClaimHash          string `json:"claim_hash"`
	SecretVerification string `json:"secret_verification,omitempty"`

	Asset   AssetRef `json:"asset"`
	Display Display  `json:"display"`

	PurchaseReference  string    `json:"purchase_reference"`
	PurchaseAmountFiat uint64    `json:"purchase_amount_fiat"`
	FiatCurrency       string    `json:"fiat_currency"`
	PurchasedAt        time.Time `json:"purchased_at"`

	Status    Status    `json:"status"`
	Claimer   string    `json:"claimer,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`

	MaxClaimAttempts uint32 `json:"max_claim_attempts"`
	ClaimAttempts    uint32 `json:"claim_attempts"`

	RequiresAdditionalVerification bool             `json:"requires_additional_verification"`
	VerificationKind               VerificationKind `json:"verification_kind,omitempty"`
	VerificationMetadata           string           `json:"verification_metadata,omitempty"`
	MerchantPublicKey              []byte           `json:"merchant_public_key,omitempty"`

	CancelReason string    `json:"cancel_reason,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at"`
	ExpiredAt    time.Time `json:"expired_at"`
}

// NewClaimEscrow validates params against the registry policy and returns a
// PENDING escrow. It does not touch the registry index.
func NewClaimEscrow(id string, registry *Registry, params ClaimParams, now time.Time) (*ClaimEscrow, error) {
	if params.ClaimHash == "" {
		return nil, Errorf(KindInvalidMetadata, "claim code is required")
	}
	if params.PurchaseAmountFiat == 0 {
		return nil, Errorf(KindInvalidAmount, "purchase amount must be positive")
	}
	if params.FiatCurrency == "" {
		return nil, Errorf(KindInvalidMetadata, "fiat currency is required")
	}
	if params.Asset.ID == "" {
		return nil, Errorf(KindInvalidMetadata, "asset reference is required")
	}
	if params.VerificationKind == VerificationPIN && params.SecretVerification == "" {
		return nil, Errorf(KindInvalidMetadata, "verification secret is required")
	}
	if params.VerificationKind == VerificationMerchantSignature && len(params.MerchantPublicKey) != 32 {
		return nil, Errorf(KindInvalidMetadata, "merchant public key must be 32 bytes")
	}
	if params.Asset.Kind == AssetKindFungible && params.Asset.Amount == 0 {
		return nil, Errorf(KindInvalidAmount, "token amount must be positive")
	}

	hours := registry.DefaultExpiryHours
	if params.CustomExpiryHours > 0 {
		hours = params.CustomExpiryHours
	}

	return &ClaimEscrow{
		ID:                             id,
		RegistryID:                     registry.ID,
		ClaimHash:                      params.ClaimHash,
		SecretVerification:             params.SecretVerification,
		Asset:                          params.Asset,
		Display:                        params.Display,
		PurchaseReference:              params.PurchaseReference,
		PurchaseAmountFiat:             params.PurchaseAmountFiat,
		FiatCurrency:                   params.FiatCurrency,
		PurchasedAt:                    now,
		Status:                         StatusPending,
		ExpiresAt:                      now.Add(time.Duration(hours) * time.Hour),
		MaxClaimAttempts:               DefaultMaxClaimAttempts,
		RequiresAdditionalVerification: params.VerificationKind != VerificationNone,
		VerificationKind:               params.VerificationKind,
		VerificationMetadata:           params.VerificationMetadata,
		MerchantPublicKey:              append([]byte(nil), params.MerchantPublicKey...),
	}, nil
}

// EffectiveStatus is the status every decision is based on: a PENDING escrow
// whose deadline has passed is treated as EXPIRED even before it is rewritten.
func (e *ClaimEscrow) EffectiveStatus(now time.Time) Status {
	if e.Status == StatusPending && !now.Before(e.ExpiresAt) {
		return StatusExpired
	}

	return e.Status
}

// RemainingAttempts is the number of InitiateClaim calls still accepted.
func (e *ClaimEscrow) RemainingAttempts() uint32 {
	if e.ClaimAttempts >= e.MaxClaimAttempts {
		return 0
	}

	return e.MaxClaimAttempts - e.ClaimAttempts
}

// requirePending fails unless the escrow is effectively PENDING at now.
func (e *ClaimEscrow) requirePending(now time.Time) error {
	switch e.EffectiveStatus(now) {
	case StatusPending:
		return nil
	case StatusExpired:
		return ErrExpired
	default:
		return Errorf(KindInvalidMetadata, "claim is no longer pending")
	}
}

// RegisterAttempt checks liveness and the attempt cap and then counts the
// attempt. The count is kept even when the attempt later fails.
func (e *ClaimEscrow) RegisterAttempt(now time.Time) error {
	if err := e.requirePending(now); err != nil {
		return err
	}
	if e.ClaimAttempts >= e.MaxClaimAttempts {
		return ErrAttemptsExhausted
	}

	e.ClaimAttempts++

	return nil
}

// Claim moves the escrow into CLAIMED for claimer.
func (e *ClaimEscrow) Claim(claimer string, now time.Time) error {
	if err := e.requirePending(now); err != nil {
		return err
	}
	if claimer == "" {
		return Errorf(KindInvalidMetadata, "claimer is required")
	}

	e.Status = StatusClaimed
	e.Claimer = claimer
	e.ClaimedAt = now

	return nil
}

// Cancel moves the escrow into CANCELLED.
func (e *ClaimEscrow) Cancel(reason string, now time.Time) error {
	if err := e.requirePending(now); err != nil {
		return err
	}

	e.Status = StatusCancelled
	e.CancelReason = reason
	e.CancelledAt = now

	return nil
}

// Extend pushes the deadline back. Attempts are not reset.
func (e *ClaimEscrow) Extend(additionalHours uint32, now time.Time) error {
	if additionalHours == 0 {
		return Errorf(KindInvalidAmount, "extension must be positive")
	}
	if err := e.requirePending(now); err != nil {
		return err
	}

	e.ExpiresAt = e.ExpiresAt.Add(time.Duration(additionalHours) * time.Hour)

	return nil
}

// Expire rewrites an elapsed PENDING escrow to EXPIRED.
func (e *ClaimEscrow) Expire(now time.Time) error {
	if e.Status != StatusPending {
		return Errorf(KindInvalidMetadata, "claim is no longer pending")
	}
	if e.EffectiveStatus(now) != StatusExpired {
		return Errorf(KindInvalidMetadata, "claim has not expired yet")
	}

	e.Status = StatusExpired
	e.ExpiredAt = now

	return nil
}
