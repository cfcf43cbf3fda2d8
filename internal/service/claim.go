package service

import (
	"context"

	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/crypto"
	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/ledger"
)

// CreateClaim opens a PENDING escrow for req.Asset and moves the asset from
// the caller into escrow custody. The registry authority is the only caller
// allowed to do so.
func (s *Service) CreateClaim(ctx context.Context, caller iotago.Address, req *CreateClaimRequest) (*escrow.ClaimEscrow, error) {
	callerID := s.identity(caller)

	claim, err := s.createClaim(ctx, callerID, req)
	s.emit(OpCreateClaim, callerID, req.RegistryID, claimIDOf(claim), claim, err)
	if err != nil {
		return nil, err
	}

	s.LogInfof("Created claim %s in registry %s, expires at %s", claim.ID, claim.RegistryID, claim.ExpiresAt)

	return claim, nil
}

// CreateCollectibleClaim escrows a collectible.
func (s *Service) CreateCollectibleClaim(ctx context.Context, caller iotago.Address, req *CreateClaimRequest, item custody.Collectible) (*escrow.ClaimEscrow, error) {
	r := *req
	r.Asset = item

	return s.CreateClaim(ctx, caller, &r)
}

// CreateFungibleClaim escrows an amount of a fungible token.
func (s *Service) CreateFungibleClaim(ctx context.Context, caller iotago.Address, req *CreateClaimRequest, balance custody.FungibleBalance) (*escrow.ClaimEscrow, error) {
	r := *req
	r.Asset = balance

	return s.CreateClaim(ctx, caller, &r)
}

func (s *Service) createClaim(ctx context.Context, callerID string, req *CreateClaimRequest) (*escrow.ClaimEscrow, error) {
	registry, err := s.ledger.Registry(req.RegistryID)
	if err != nil {
		return nil, err
	}
	if !registry.IsAuthority(callerID) {
		return nil, escrow.ErrNotAuthorized
	}

	if req.ClaimCode == "" {
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "claim code is required")
	}
	if req.Asset == nil {
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "asset is required")
	}

	params := escrow.ClaimParams{
		ClaimHash:            s.hasher.ClaimDigest(registry.ID, req.ClaimCode),
		Asset:                req.Asset.Ref(),
		PurchaseReference:    req.PurchaseReference,
		PurchaseAmountFiat:   req.PurchaseAmountFiat,
		FiatCurrency:         req.FiatCurrency,
		Display:              req.Display,
		CustomExpiryHours:    req.CustomExpiryHours,
		VerificationMetadata: req.VerificationMetadata,
	}

	switch {
	case registry.RequireMerchantSignature && req.PIN != "":
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "registry requires merchant signatures, PIN not accepted")
	case registry.RequireMerchantSignature:
		params.VerificationKind = escrow.VerificationMerchantSignature
		params.MerchantPublicKey = registry.MerchantPublicKey
	case req.PIN != "":
		// bcrypt is slow, hash before taking any lock
		pinHash, err := crypto.HashPIN(req.PIN)
		if err != nil {
			return nil, escrow.Errorf(escrow.KindInvalidMetadata, "failed to hash PIN")
		}
		params.VerificationKind = escrow.VerificationPIN
		params.SecretVerification = pinHash
	}

	claimID := newID()
	escrowAccount := custody.EscrowAccount(claimID)

	var claim *escrow.ClaimEscrow
	moved := false
	err = s.ledger.Update([]string{
		ledger.CodeLock(registry.ID, params.ClaimHash),
		ledger.ClaimLock(claimID),
	}, func(tx *ledger.Tx) error {
		if err := tx.InsertCode(registry.ID, params.ClaimHash, claimID); err != nil {
			return err
		}

		e, err := escrow.NewClaimEscrow(claimID, registry, params, s.now())
		if err != nil {
			return err
		}
		if err := tx.PutClaim(e); err != nil {
			return err
		}
		tx.Increment(registry.ID, ledger.CounterCreated)
		claim = e

		return s.moveAsset(ctx, e.Asset, callerID, escrowAccount, &moved)
	})
	if err != nil {
		if moved {
			s.compensate(ctx, params.Asset, callerID, escrowAccount)
		}
		return nil, err
	}

	return claim, nil
}

func claimIDOf(claim *escrow.ClaimEscrow) string {
	if claim == nil {
		return ""
	}

	return claim.ID
}
