// Package builder implements the Bundle Item Builder (C2): it turns a
// match document plus its two referenced orders into a typed bundle item
// (spec §4.2).
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/outblock/match-executor/internal/bigint"
	"github.com/outblock/match-executor/internal/matchstore"
	"github.com/outblock/match-executor/internal/model"
)

// Work is what the builder emits for the orchestrator to route onward.
type Work struct {
	ID   string
	Item *model.BundleItem // nil for Remove
}

// Builder wraps an OrderReader to turn matches into bundle items.
type Builder struct {
	orders  matchstore.OrderReader
	chainID uint64
	exchangeAddress string
}

func New(orders matchstore.OrderReader, chainID uint64, exchangeAddress string) *Builder {
	return &Builder{orders: orders, chainID: chainID, exchangeAddress: exchangeAddress}
}

// Build implements spec §4.2 steps 1-5. When the match itself cannot be
// built it returns a model.Rejection with the appropriate code; callers are
// expected to route it to onInvalidated. A failed order read is returned as
// a plain wrapped error.
func (b *Builder) Build(ctx context.Context, matchID string, m *model.Match) (*model.BundleItem, error) {
	ids := m.OrderIDs()
	orders, err := b.orders.GetOrders(ctx, []string{ids[0], ids[1]})
	if err != nil {
		return nil, fmt.Errorf("read orders for match %s: %w", matchID, err)
	}

	var sells, buys []*model.Order
	for _, id := range ids {
		o, ok := orders[id]
		if !ok {
			return nil, model.Reject(matchID, model.RejectOrderInvalid, "referenced order %s is missing", id)
		}
		if o.IsSellOrder {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}
	if len(sells) > 1 || len(buys) > 1 {
		return nil, model.Reject(matchID, model.RejectMultipleOrdersUnsupported, "match %s references more than one listing or offer", matchID)
	}
	if len(sells) == 0 || len(buys) == 0 {
		return nil, model.Reject(matchID, model.RejectOrderInvalid, "match %s is missing its sell or buy order", matchID)
	}
	sell, buy := sells[0], buys[0]

	item := &model.BundleItem{
		ID:              matchID,
		ChainID:         b.chainID,
		ExchangeAddress: b.exchangeAddress,
		Type:            m.Type,
		SellOrder:       *sell,
		BuyOrder:        *buy,
		SellHash:        orderHash(sell),
		BuyHash:         orderHash(buy),
	}

	if m.Type == model.MatchTypeMatchOneToOneOrders {
		return item, nil
	}

	flattened := model.Flatten(m.OrderItems)
	constructed, err := buildConstructedOrder(buy, flattened)
	if err != nil {
		return nil, model.Reject(matchID, model.RejectOrderInvalid, "build constructed order for %s: %v", matchID, err)
	}
	item.Constructed = constructed
	return item, nil
}

// buildConstructedOrder derives the synthetic buy-side order for a
// MatchOrders bundle item (spec §3): isSellOrder=false, constraints 1-5
// copied from the offer, position 0 set to numMatches, nfts set to the
// flattened set.
func buildConstructedOrder(offer *model.Order, flattened model.FlattenResult) (*model.Order, error) {
	constructed := &model.Order{
		IsSellOrder: false,
		Signer:      offer.Signer,
		NFTs:        flattened.NFTs,
		ExecParams:  offer.ExecParams,
		ExtraParams: offer.ExtraParams,
		Signature:   offer.Signature,
	}
	constructed.Constraints[model.ConstraintNumItems] = numMatches(flattened.NumMatches)
	constructed.Constraints[model.ConstraintStartPrice] = offer.Constraints[model.ConstraintStartPrice]
	constructed.Constraints[model.ConstraintEndPrice] = offer.Constraints[model.ConstraintEndPrice]
	constructed.Constraints[model.ConstraintStartTime] = offer.Constraints[model.ConstraintStartTime]
	constructed.Constraints[model.ConstraintEndTime] = offer.Constraints[model.ConstraintEndTime]
	constructed.Constraints[model.ConstraintNonce] = offer.Constraints[model.ConstraintNonce]
	return constructed, nil
}

func numMatches(n uint64) *bigint.U256 {
	v, _ := bigint.FromDecimal(fmt.Sprintf("%d", n))
	return v
}

// orderHash is a content hash over the order's canonical JSON encoding,
// standing in for the exchange contract's own EIP-712 order hash (owned
// by the out-of-scope ABI layer per spec §1; this is the builder's local
// identity for an order it has already normalized).
func orderHash(o *model.Order) [32]byte {
	data, err := json.Marshal(o)
	if err != nil {
		return [32]byte{}
	}
	return sha256.Sum256(data)
}
