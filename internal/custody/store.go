package custody

import (
	"context"
	"errors"
	"sync"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"
	pkgerrors "github.com/pkg/errors"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/pkg/common"
)

var (
	ErrNotOwner            = errors.New("sender does not own the asset")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAssetExists         = errors.New("asset already exists")
	ErrUnknownAssetKind    = errors.New("unknown asset kind")
)

const (
	storePrefixOwner   byte = 0
	storePrefixBalance byte = 1
)

var realm = []byte{common.StorePrefixCustody}

// Store is a kvstore backed asset module: collectibles have exactly one owner,
// fungible tokens have a balance per owner.
type Store struct {
	store kvstore.KVStore
	mu    sync.Mutex
}

var _ Custodian = (*Store)(nil)

// NewStore opens the custody realm of store.
func NewStore(store kvstore.KVStore) (*Store, error) {
	custodyStore, err := store.WithRealm(realm)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open custody realm")
	}

	return &Store{store: custodyStore}, nil
}

// Mint creates a collectible owned by owner, or credits a fungible balance.
func (s *Store) Mint(asset AssetHandle, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := asset.Ref()
	switch ref.Kind {
	case escrow.AssetKindCollectible:
		if _, err := s.store.Get(ownerKey(ref.ID)); err == nil {
			return ErrAssetExists
		}
		return pkgerrors.Wrap(s.store.Set(ownerKey(ref.ID), []byte(owner)), "failed to mint collectible")
	case escrow.AssetKindFungible:
		balance, err := s.balance(ref.ID, owner)
		if err != nil {
			return err
		}
		return pkgerrors.Wrap(s.store.Set(balanceKey(ref.ID, owner), encodeAmount(balance+ref.Amount)), "failed to mint balance")
	default:
		return ErrUnknownAssetKind
	}
}

// Transfer moves asset from one owner to another.
func (s *Store) Transfer(_ context.Context, asset escrow.AssetRef, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch asset.Kind {
	case escrow.AssetKindCollectible:
		owner, err := s.owner(asset.ID)
		if err != nil {
			return err
		}
		if owner != from {
			return ErrNotOwner
		}
		return pkgerrors.Wrap(s.store.Set(ownerKey(asset.ID), []byte(to)), "failed to transfer collectible")

	case escrow.AssetKindFungible:
		fromBalance, err := s.balance(asset.ID, from)
		if err != nil {
			return err
		}
		if fromBalance < asset.Amount {
			return ErrInsufficientBalance
		}
		if from == to {
			return nil
		}
		toBalance, err := s.balance(asset.ID, to)
		if err != nil {
			return err
		}

		batch, err := s.store.Batched()
		if err != nil {
			return pkgerrors.Wrap(err, "failed to open batch")
		}
		if err := batch.Set(balanceKey(asset.ID, from), encodeAmount(fromBalance-asset.Amount)); err != nil {
			batch.Cancel()
			return pkgerrors.Wrap(err, "failed to debit balance")
		}
		if err := batch.Set(balanceKey(asset.ID, to), encodeAmount(toBalance+asset.Amount)); err != nil {
			batch.Cancel()
			return pkgerrors.Wrap(err, "failed to credit balance")
		}
		return pkgerrors.Wrap(batch.Commit(), "failed to commit transfer")

	default:
		return ErrUnknownAssetKind
	}
}

// OwnerOf returns the current owner of a collectible.
func (s *Store) OwnerOf(assetID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.owner(assetID)
}

// BalanceOf returns owner's balance of a fungible token.
func (s *Store) BalanceOf(tokenID, owner string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balance(tokenID, owner)
}

func (s *Store) owner(assetID string) (string, error) {
	value, err := s.store.Get(ownerKey(assetID))
	if pkgerrors.Is(err, kvstore.ErrKeyNotFound) {
		return "", escrow.Errorf(escrow.KindNotFound, "asset not found")
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to read owner")
	}

	return string(value), nil
}

func (s *Store) balance(tokenID, owner string) (uint64, error) {
	value, err := s.store.Get(balanceKey(tokenID, owner))
	if pkgerrors.Is(err, kvstore.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read balance")
	}

	amount, err := marshalutil.New(value).ReadUint64()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "corrupt balance")
	}

	return amount, nil
}

func ownerKey(assetID string) []byte {
	ms := marshalutil.New(1 + len(assetID))
	ms.WriteByte(storePrefixOwner)
	ms.WriteBytes([]byte(assetID))

	return ms.Bytes()
}

func balanceKey(tokenID, owner string) []byte {
	ms := marshalutil.New(3 + len(tokenID) + len(owner))
	ms.WriteByte(storePrefixBalance)
	ms.WriteUint16(uint16(len(tokenID)))
	ms.WriteBytes([]byte(tokenID))
	ms.WriteBytes([]byte(owner))

	return ms.Bytes()
}

func encodeAmount(v uint64) []byte {
	return marshalutil.New(8).WriteUint64(v).Bytes()
}
