// Package verifier implements the Match Verifier (C3): per bundle item,
// asks the exchange contract whether the match still settles and computes
// its current Dutch-auction price (spec §4.3).
package verifier

import (
	"context"
	"sync"
	"time"

	"github.com/outblock/match-executor/internal/bigint"
	"github.com/outblock/match-executor/internal/chainrpc"
	"github.com/outblock/match-executor/internal/model"
)

// Result is the outcome of verifying one batch.
type Result struct {
	Valid   []model.WithPrice
	Invalid []model.Rejection
}

// Verifier runs verifyMatchOrders calls in parallel per batch.
type Verifier struct {
	exchange chainrpc.ExchangeContract
	now      func() uint64 // injected for deterministic tests
}

func New(exchange chainrpc.ExchangeContract) *Verifier {
	return &Verifier{exchange: exchange, now: defaultNow}
}

func defaultNow() uint64 { return uint64(time.Now().Unix()) }

// Verify checks every item in items concurrently and partitions the
// result, never failing the whole batch on one item's error (spec §7).
func (v *Verifier) Verify(ctx context.Context, items []*model.BundleItem) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			priced, rej := v.verifyOne(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if rej != nil {
				res.Invalid = append(res.Invalid, *rej)
				return
			}
			res.Valid = append(res.Valid, *priced)
		}()
	}
	wg.Wait()
	return res
}

func (v *Verifier) verifyOne(ctx context.Context, item *model.BundleItem) (*model.WithPrice, *model.Rejection) {
	now := v.now()

	if item.Type == model.MatchTypeMatchOneToOneOrders {
		// One-to-one verification currently short-circuits to always
		// valid pending a contract upgrade (spec §4.3, §9 open question);
		// price is taken directly from the sell order's startPrice slot.
		price := item.SellOrder.Constraints[model.ConstraintStartPrice]
		return &model.WithPrice{BundleItem: *item, CurrentPrice: price}, nil
	}

	ok, err := v.exchange.VerifyMatchOrders(ctx, item.SellHash, item.BuyHash, &item.SellOrder, &item.BuyOrder)
	if err != nil {
		rej := model.Reject(item.ID, model.RejectUnknownError, "verifyMatchOrders transport error: %v", err)
		return nil, &rej
	}
	if !ok {
		rej := model.Reject(item.ID, model.RejectOrderInvalid, "verifyMatchOrders settled false")
		return nil, &rej
	}

	sellPrice, err := curveFor(&item.SellOrder, now)
	if err != nil {
		rej := model.Reject(item.ID, model.RejectOrderInvalid, "sell curve: %v", err)
		return nil, &rej
	}
	buyPrice, err := curveFor(&item.BuyOrder, now)
	if err != nil {
		rej := model.Reject(item.ID, model.RejectOrderInvalid, "buy curve: %v", err)
		return nil, &rej
	}

	price := bigint.Min(sellPrice, buyPrice)
	return &model.WithPrice{BundleItem: *item, CurrentPrice: price}, nil
}

func curveFor(o *model.Order, now uint64) (*bigint.U256, error) {
	return bigint.CurvePoint(o.StartPrice(), o.EndPrice(), o.StartTimeSec(), o.EndTimeSec(), now)
}
