// Package validator implements the Asset Validator (C4): confirms seller
// ownership/approval for every NFT and buyer allowance/balance for every
// required currency (spec §4.4).
package validator

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/chainrpc"
	"github.com/outblock/match-executor/internal/model"
)

// Validator runs the seller and buyer passes against live chain state.
type Validator struct {
	tokens               chainrpc.TokenContract
	exchangeAddress      common.Address
	wrappedNativeAddress common.Address
	priceHeadroomNum     uint64
	priceHeadroomDen     uint64
	wrappedNativeGasBuffer *big.Int
}

func New(tokens chainrpc.TokenContract, exchangeAddress, wrappedNativeAddress common.Address, priceHeadroomNum, priceHeadroomDen uint64, wrappedNativeGasBuffer *big.Int) *Validator {
	if wrappedNativeGasBuffer == nil {
		wrappedNativeGasBuffer = big.NewInt(0)
	}
	return &Validator{
		tokens:                 tokens,
		exchangeAddress:        exchangeAddress,
		wrappedNativeAddress:   wrappedNativeAddress,
		priceHeadroomNum:       priceHeadroomNum,
		priceHeadroomDen:       priceHeadroomDen,
		wrappedNativeGasBuffer: wrappedNativeGasBuffer,
	}
}

// Result is the outcome of validating one batch.
type Result struct {
	Valid   []model.WithPrice
	Invalid []model.Rejection
}

// Validate runs the seller and buyer passes for every item concurrently.
// Both passes are independent and order between them is arbitrary (spec
// §4.4), so they're fused into one goroutine per item here.
func (v *Validator) Validate(ctx context.Context, items []model.WithPrice) Result {
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
			rej := v.validateOne(ctx, &item)
			mu.Lock()
			defer mu.Unlock()
			if rej != nil {
				res.Invalid = append(res.Invalid, *rej)
				return
			}
			res.Valid = append(res.Valid, item)
		}()
	}
	wg.Wait()
	return res
}

func (v *Validator) validateOne(ctx context.Context, item *model.WithPrice) *model.Rejection {
	if rej := v.sellerPass(ctx, item); rej != nil {
		return rej
	}
	return v.buyerPass(ctx, item)
}

// sellerNFTs returns the NFT set to check ownership/approval against:
// item.constructed.nfts for MatchOrders, item.sell.nfts for OneToOne.
func sellerNFTs(item *model.WithPrice) []model.NFT {
	if item.Type == model.MatchTypeMatchOrders && item.Constructed != nil {
		return item.Constructed.NFTs
	}
	return item.SellOrder.NFTs
}

func (v *Validator) sellerPass(ctx context.Context, item *model.WithPrice) *model.Rejection {
	signer := item.SellOrder.Signer
	for _, nft := range sellerNFTs(item) {
		approved, err := v.tokens.IsApprovedForAll(ctx, nft.Collection, signer, v.exchangeAddress)
		if err != nil {
			rej := model.Reject(item.ID, model.RejectUnknownError, "isApprovedForAll %s: %v", nft.Collection, err)
			return &rej
		}
		if !approved {
			rej := model.Reject(item.ID, model.RejectNotApprovedToTransferToken, "seller %s has not approved exchange on %s", signer, nft.Collection)
			return &rej
		}
		for _, tok := range nft.Tokens {
			owner, err := v.tokens.OwnerOf(ctx, nft.Collection, tok.TokenID.ToBig())
			if err != nil {
				rej := model.Reject(item.ID, model.RejectUnknownError, "ownerOf %s/%s: %v", nft.Collection, tok.TokenID, err)
				return &rej
			}
			if !strings.EqualFold(owner.Hex(), signer.Hex()) {
				rej := model.Reject(item.ID, model.RejectInsufficientTokenBalance, "seller no longer owns token %s of %s", tok.TokenID, nft.Collection)
				return &rej
			}
		}
	}
	return nil
}

func (v *Validator) buyerPass(ctx context.Context, item *model.WithPrice) *model.Rejection {
	buyer := item.BuyOrder.Signer
	orderCurrency := item.BuyOrder.Currency()

	currencies := []common.Address{orderCurrency}
	if orderCurrency != v.wrappedNativeAddress {
		currencies = append(currencies, v.wrappedNativeAddress)
	}

	expectedCost := new(big.Int).Mul(item.CurrentPrice.ToBig(), big.NewInt(int64(v.priceHeadroomNum)))
	expectedCost.Div(expectedCost, big.NewInt(int64(v.priceHeadroomDen)))

	for _, currency := range currencies {
		cost := new(big.Int).Set(expectedCost)
		if currency == v.wrappedNativeAddress {
			// Gas-cost buffer for the currency the buyer also pays gas
			// in (spec §9 TODO, promoted to a real config field).
			cost = new(big.Int).Add(cost, v.wrappedNativeGasBuffer)
		}

		allowance, err := v.tokens.Allowance(ctx, currency, buyer, v.exchangeAddress)
		if err != nil {
			rej := model.Reject(item.ID, model.RejectUnknownError, "allowance %s: %v", currency, err)
			return &rej
		}
		if allowance.Cmp(cost) < 0 {
			rej := model.Reject(item.ID, model.RejectInsufficientCurrencyAllowance, "buyer allowance %s < expected %s for %s", allowance, cost, currency)
			return &rej
		}

		balance, err := v.tokens.BalanceOf(ctx, currency, buyer)
		if err != nil {
			rej := model.Reject(item.ID, model.RejectUnknownError, "balanceOf %s: %v", currency, err)
			return &rej
		}
		if balance.Cmp(cost) < 0 {
			rej := model.Reject(item.ID, model.RejectInsufficientCurrencyBalance, "buyer balance %s < expected %s for %s", balance, cost, currency)
			return &rej
		}
	}
	return nil
}
