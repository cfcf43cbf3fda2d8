// Package custody models the assets a claim escrow holds and the transfer
// primitive of the asset module that owns them.
package custody

import (
	"context"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// AssetHandle is anything the escrow can take custody of. The protocol only
// ever sees the reference; what the asset is stays with the asset module.
type AssetHandle interface {
	Ref() escrow.AssetRef
}

// Collectible is a unique, non-divisible asset such as an NFT.
type Collectible struct {
	ObjectID   string
	Collection string
}

func (c Collectible) Ref() escrow.AssetRef {
	return escrow.AssetRef{Kind: escrow.AssetKindCollectible, ID: c.ObjectID}
}

// FungibleBalance is an amount of a fungible token.
type FungibleBalance struct {
	TokenID string
	Amount  uint64
}

func (f FungibleBalance) Ref() escrow.AssetRef {
	return escrow.AssetRef{Kind: escrow.AssetKindFungible, ID: f.TokenID, Amount: f.Amount}
}

// Custodian moves assets between owners. Transfers must be all-or-nothing.
type Custodian interface {
	Transfer(ctx context.Context, asset escrow.AssetRef, from, to string) error
}

// EscrowAccount is the owner identity under which an escrow holds its asset.
func EscrowAccount(claimID string) string {
	return "escrow:" + claimID
}
