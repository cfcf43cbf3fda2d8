// Package service implements the claim escrow protocol on top of the ledger:
// merchants open escrows guarded by claim codes and claimants redeem them in
// a two-phase initiate/complete handshake.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/logger"
	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/crypto"
	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/ledger"
	"github.com/dueldanov/claimescrow/internal/verification"
)

type Service struct {
	*logger.WrappedLogger

	ledger    *ledger.Ledger
	custodian custody.Custodian
	hasher    *crypto.ClaimHasher
	factors   *verification.Registry
	config    *ServiceConfig
	now       func() time.Time

	Events *Events
}

func NewService(
	log *logger.Logger,
	store kvstore.KVStore,
	custodian custody.Custodian,
	config *ServiceConfig,
) (*Service, error) {
	if config == nil {
		config = &ServiceConfig{}
	}
	if config.NetworkPrefix == "" {
		config.NetworkPrefix = iotago.PrefixMainnet
	}
	if config.TicketLifetime <= 0 {
		config.TicketLifetime = escrow.TicketLifetime
	}

	l, err := ledger.New(store)
	if err != nil {
		return nil, err
	}

	// Load or generate persistent master key
	keyStore, err := crypto.NewKeyStore(filepath.Join(config.DataDir, "keys"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key store: %w", err)
	}
	masterKey, err := keyStore.LoadOrGenerate()
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	defer crypto.ClearBytes(masterKey)
	log.Infof("Loaded claim master key %s from %s", crypto.Fingerprint(masterKey), keyStore.Path())

	hasher, err := crypto.NewClaimHasher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive claim keys: %w", err)
	}

	now := config.Clock
	if now == nil {
		now = time.Now
	}

	return &Service{
		WrappedLogger: logger.NewWrappedLogger(log),
		ledger:        l,
		custodian:     custodian,
		hasher:        hasher,
		factors:       verification.NewRegistry(log),
		config:        config,
		now:           now,
		Events:        newEvents(),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return *s.config
}

// SecondFactors exposes the verifier registry so deployments can add kinds.
func (s *Service) SecondFactors() *verification.Registry {
	return s.factors
}

// identity turns a caller address into the string stored on records.
func (s *Service) identity(caller iotago.Address) string {
	if caller == nil {
		return ""
	}

	return caller.Bech32(s.config.NetworkPrefix)
}

// ParseIdentity parses a bech32 identity and checks it belongs to the
// configured network.
func (s *Service) ParseIdentity(bech32 string) (iotago.Address, error) {
	hrp, addr, err := iotago.ParseBech32(bech32)
	if err != nil {
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "invalid identity: %v", err)
	}
	if hrp != s.config.NetworkPrefix {
		return nil, escrow.Errorf(escrow.KindInvalidMetadata, "identity belongs to network %q", hrp)
	}

	return addr, nil
}

func (s *Service) emit(op Operation, caller, registryID, claimID string, claim *escrow.ClaimEscrow, err error) {
	s.Events.Operation.Trigger(&OperationEvent{
		Operation:  op,
		Caller:     caller,
		RegistryID: registryID,
		ClaimID:    claimID,
		Claim:      claim,
		Err:        err,
		At:         s.now(),
	})
}

// moveAsset transfers custody and reports whether it happened, so a failed
// ledger commit can be compensated.
func (s *Service) moveAsset(ctx context.Context, asset escrow.AssetRef, from, to string, moved *bool) error {
	if err := s.custodian.Transfer(ctx, asset, from, to); err != nil {
		switch {
		case errors.Is(err, custody.ErrInsufficientBalance):
			return escrow.Errorf(escrow.KindInvalidAmount, "asset transfer failed: %v", err)
		case escrow.KindOf(err) != escrow.KindUnknown:
			return err
		default:
			return escrow.Errorf(escrow.KindInvalidMetadata, "asset transfer failed: %v", err)
		}
	}
	*moved = true

	return nil
}

// compensate reverses a transfer whose ledger transaction did not commit.
func (s *Service) compensate(ctx context.Context, asset escrow.AssetRef, from, to string) {
	if err := s.custodian.Transfer(ctx, asset, to, from); err != nil {
		s.LogErrorf("failed to reverse transfer of %s %s: %v", asset.Kind, asset.ID, err)
	}
}

func newID() string {
	return uuid.New().String()
}
