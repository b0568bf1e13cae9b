package model

import "github.com/outblock/match-executor/internal/bigint"

// BundleItem is a validated unit of work bound for the packer: either a
// one-to-one match or an N-NFT matchOrders call, per spec §3.
type BundleItem struct {
	ID              string
	ChainID         uint64
	ExchangeAddress string // checksummed hex, kept as string for cheap equality/logging
	Type            MatchType

	SellOrder Order
	BuyOrder  Order
	SellHash  [32]byte
	BuyHash   [32]byte

	// Constructed is only populated for MatchTypeMatchOrders: the
	// synthetic buy-side order summarizing the flattened NFT set (§3).
	Constructed *Order
}

// WithPrice augments a BundleItem with its current Dutch-auction price
// (spec's BundleItemWithCurrentPrice).
type WithPrice struct {
	BundleItem
	CurrentPrice *bigint.U256
}

// FlattenResult is the output of the NFT-flattening rule in spec §3.
type FlattenResult struct {
	NFTs       []NFT
	NumMatches uint64
}

// Flatten implements the flattening rule: iterate collections in
// insertion order, emit every collection even when its token list is
// empty, and accumulate NumMatches as sum(max(1, len(tokens))).
func Flatten(items []OrderItemTokens) FlattenResult {
	res := FlattenResult{NFTs: make([]NFT, 0, len(items))}
	for _, it := range items {
		res.NFTs = append(res.NFTs, NFT{Collection: it.Collection, Tokens: it.Tokens})
		n := len(it.Tokens)
		if n == 0 {
			n = 1
		}
		res.NumMatches += uint64(n)
	}
	return res
}
