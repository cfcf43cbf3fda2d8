package service

import (
	"context"

	iotago "github.com/iotaledger/iota.go/v3"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/ledger"
)

// CreateRegistry opens a claim registry administered by caller.
func (s *Service) CreateRegistry(_ context.Context, caller iotago.Address, params escrow.RegistryParams) (*escrow.Registry, error) {
	callerID := s.identity(caller)

	registry, err := escrow.NewRegistry(newID(), callerID, params, s.now())
	if err != nil {
		s.emit(OpCreateRegistry, callerID, "", "", nil, err)
		return nil, err
	}

	err = s.ledger.Update([]string{ledger.RegistryLock(registry.ID)}, func(tx *ledger.Tx) error {
		return tx.PutRegistry(registry)
	})
	s.emit(OpCreateRegistry, callerID, registry.ID, "", nil, err)
	if err != nil {
		return nil, err
	}

	s.LogInfof("Created registry %s for merchant %s", registry.ID, registry.MerchantName)

	return registry, nil
}

// UpdatePolicy replaces the registry policy. Escrows created earlier keep
// the expiry and verification they were created with.
func (s *Service) UpdatePolicy(_ context.Context, caller iotago.Address, registryID string, defaultExpiryHours uint32, requireSignature bool, publicKey []byte) (*escrow.Registry, error) {
	callerID := s.identity(caller)

	var updated *escrow.Registry
	err := s.ledger.Update([]string{ledger.RegistryLock(registryID)}, func(tx *ledger.Tx) error {
		registry, err := tx.Registry(registryID)
		if err != nil {
			return err
		}
		if !registry.IsAuthority(callerID) {
			return escrow.ErrNotAuthorized
		}
		if err := registry.ApplyPolicy(defaultExpiryHours, requireSignature, publicKey, s.now()); err != nil {
			return err
		}
		updated = registry

		return tx.PutRegistry(registry)
	})
	s.emit(OpUpdatePolicy, callerID, registryID, "", nil, err)
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetRegistry returns a registry.
func (s *Service) GetRegistry(_ context.Context, registryID string) (*escrow.Registry, error) {
	return s.ledger.Registry(registryID)
}

// Stats returns the registry counters.
func (s *Service) Stats(_ context.Context, registryID string) (escrow.Stats, error) {
	if _, err := s.ledger.Registry(registryID); err != nil {
		return escrow.Stats{}, err
	}

	return s.ledger.Stats(registryID)
}

// ClaimExists reports whether code was ever registered in the registry,
// whatever the state of its escrow.
func (s *Service) ClaimExists(_ context.Context, registryID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	_, found, err := s.ledger.LookupCode(registryID, s.hasher.ClaimDigest(registryID, code))

	return found, err
}
