package custody

import (
	"context"
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(mapdb.NewMapDB())
	require.NoError(t, err)

	return s
}

func TestStore_CollectibleTransfer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nft := Collectible{ObjectID: "nft-1", Collection: "tickets"}

	require.NoError(t, s.Mint(nft, "merchant"))
	require.ErrorIs(t, s.Mint(nft, "other"), ErrAssetExists)

	require.NoError(t, s.Transfer(ctx, nft.Ref(), "merchant", EscrowAccount("claim-1")))
	owner, err := s.OwnerOf("nft-1")
	require.NoError(t, err)
	require.Equal(t, "escrow:claim-1", owner)

	// The merchant no longer holds it
	require.ErrorIs(t, s.Transfer(ctx, nft.Ref(), "merchant", "alice"), ErrNotOwner)

	_, err = s.OwnerOf("missing")
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestStore_FungibleTransfer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Mint(FungibleBalance{TokenID: "gold", Amount: 100}, "merchant"))

	ref := FungibleBalance{TokenID: "gold", Amount: 60}.Ref()
	require.Equal(t, escrow.AssetKindFungible, ref.Kind)
	require.NoError(t, s.Transfer(ctx, ref, "merchant", "alice"))
	require.ErrorIs(t, s.Transfer(ctx, ref, "merchant", "alice"), ErrInsufficientBalance)

	merchant, err := s.BalanceOf("gold", "merchant")
	require.NoError(t, err)
	require.EqualValues(t, 40, merchant)

	alice, err := s.BalanceOf("gold", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 60, alice)

	require.NoError(t, s.Transfer(ctx, ref, "alice", "alice"))
	alice, err = s.BalanceOf("gold", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 60, alice)
}

func TestStore_UnknownKind(t *testing.T) {
	s := newTestStore(t)

	err := s.Transfer(context.Background(), escrow.AssetRef{Kind: "bond", ID: "x"}, "a", "b")
	require.ErrorIs(t, err, ErrUnknownAssetKind)
}
