// Package packer implements the Bundle Packer (C5): partitions validated
// items into gas-bounded transactions, recursively re-splitting whenever a
// bucket estimates over the gas ceiling (spec §4.5).
package packer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/outblock/match-executor/internal/chainrpc"
	"github.com/outblock/match-executor/internal/model"
)

// GasPricer supplies the network's current EIP-1559 fee inputs. Implemented
// by *chainrpc.Client; narrowed to an interface here so Packer stays
// testable without a live RPC connection.
type GasPricer interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context) (*types.Header, error)
}

// TxRequest is a single submittable transaction, bound to the match ids
// it was packed from so the orchestrator can bind broadcaster callbacks
// back to them.
type TxRequest struct {
	MatchIDs  []string
	To        common.Address
	Data      []byte
	GasLimit  uint64
	ChainID   uint64
	TxType    uint8 // types.DynamicFeeTxType (EIP-1559) when GasPricer succeeded, else types.LegacyTxType
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// Result is the packer's output: submittable requests plus any item that
// could not be packed under the gas ceiling.
type Result struct {
	Requests []TxRequest
	Invalid  []model.Rejection
}

// Packer owns the per-chain exchange encoder and gas ceiling.
type Packer struct {
	exchange        chainrpc.ExchangeContract
	exchangeAddress common.Address
	signerAddress   common.Address
	chainID         uint64
	maxGasLimit     uint64
	gasHeadroomNum  uint64
	gasHeadroomDen  uint64
	minBundleSize   int
	gasPricer       GasPricer
}

func New(exchange chainrpc.ExchangeContract, exchangeAddress, signerAddress common.Address, chainID, maxGasLimit, gasHeadroomNum, gasHeadroomDen uint64, minBundleSize int, gasPricer GasPricer) *Packer {
	return &Packer{
		exchange:        exchange,
		exchangeAddress: exchangeAddress,
		signerAddress:   signerAddress,
		chainID:         chainID,
		maxGasLimit:     maxGasLimit,
		gasHeadroomNum:  gasHeadroomNum,
		gasHeadroomDen:  gasHeadroomDen,
		minBundleSize:   minBundleSize,
		gasPricer:       gasPricer,
	}
}

// feeCapMultiplier is the common EIP-1559 heuristic for deriving a fee cap
// from the latest base fee: headroom for two blocks of base fee increase
// plus the tip, so the transaction stays includable if the base fee rises
// before it lands.
const feeCapMultiplier = 2

// suggestFees asks the GasPricer for the network's current tip and base fee
// and derives a fee cap. Returns ok=false if no GasPricer is configured or
// either RPC call fails, so the caller can fall back to a legacy
// transaction rather than submit a zero-cap EIP-1559 one.
func (p *Packer) suggestFees(ctx context.Context) (tipCap, feeCap *big.Int, ok bool) {
	if p.gasPricer == nil {
		return nil, nil, false
	}
	tip, err := p.gasPricer.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, false
	}
	header, err := p.gasPricer.HeaderByNumber(ctx)
	if err != nil || header.BaseFee == nil {
		return nil, nil, false
	}
	cap := new(big.Int).Mul(header.BaseFee, big.NewInt(feeCapMultiplier))
	cap.Add(cap, tip)
	return tip, cap, true
}

// Pack runs the full algorithm in spec §4.5 starting from numBundles=1.
func (p *Packer) Pack(ctx context.Context, items []model.WithPrice) Result {
	if len(items) < p.minBundleSize {
		return Result{}
	}
	tipCap, feeCap, ok := p.suggestFees(ctx)
	maxBundles := max(8, len(items))
	return p.packAt(ctx, items, 1, maxBundles, tipCap, feeCap, ok)
}

type bucket struct {
	items []model.WithPrice
}

func (p *Packer) packAt(ctx context.Context, items []model.WithPrice, numBundles, maxBundles int, tipCap, feeCap *big.Int, dynamicFees bool) Result {
	buckets := distributeRoundRobin(items, numBundles)

	estimates := make([]struct {
		req TxRequest
		ok  bool
	}, len(buckets))

	var wg sync.WaitGroup
	for i, b := range buckets {
		if len(b.items) == 0 {
			continue
		}
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, gas, err := p.estimateBucket(ctx, b)
			if err != nil {
				return // drop this bucket, don't abort the batch (spec §4.5 step 4)
			}
			gasLimit := gas * p.gasHeadroomNum / p.gasHeadroomDen
			ids := make([]string, len(b.items))
			for j, it := range b.items {
				ids[j] = it.ID
			}
			req := TxRequest{
				MatchIDs: ids,
				To:       p.exchangeAddress,
				Data:     data,
				GasLimit: gasLimit,
				ChainID:  p.chainID,
				TxType:   types.LegacyTxType,
			}
			if dynamicFees {
				req.TxType = types.DynamicFeeTxType
				req.GasTipCap = tipCap
				req.GasFeeCap = feeCap
			}
			estimates[i] = struct {
				req TxRequest
				ok  bool
			}{req: req, ok: true}
		}()
	}
	wg.Wait()

	var (
		surviving     []TxRequest
		oversize      []TxRequest
		oversizeGasSum uint64
	)
	for _, e := range estimates {
		if !e.ok {
			continue
		}
		if e.req.GasLimit > p.maxGasLimit {
			oversize = append(oversize, e.req)
			oversizeGasSum += e.req.GasLimit
			continue
		}
		surviving = append(surviving, e.req)
	}

	if len(oversize) == 0 {
		return Result{Requests: surviving}
	}

	// estimatedK approximates how many buckets the oversize gas needs to
	// spread across the ceiling; numBundles*2 is the floor so recursion
	// always makes forward progress even when the estimate undershoots.
	estimatedK := ceilDiv(int(oversizeGasSum), int(p.maxGasLimit))
	newK := numBundles * 2
	if estimatedK > newK {
		newK = estimatedK
	}
	if newK > maxBundles {
		// Recursion bound reached: keep what survived, reject the rest
		// as BundleTooLarge (spec §4.5 step 6).
		var invalid []model.Rejection
		for _, req := range oversize {
			for _, id := range req.MatchIDs {
				invalid = append(invalid, model.Reject(id, model.RejectBundleTooLarge, "no bundle size packs item under the gas ceiling"))
			}
		}
		return Result{Requests: surviving, Invalid: invalid}
	}

	// Recursion redistributes the whole item set at the larger bundle
	// count (spec §4.5 step 6: "recurse from step 1 with newK"), so this
	// level's surviving buckets are superseded, not appended to.
	return p.packAt(ctx, items, newK, maxBundles, tipCap, feeCap, dynamicFees)
}

func (p *Packer) estimateBucket(ctx context.Context, b bucket) ([]byte, uint64, error) {
	switch b.items[0].Type {
	case model.MatchTypeMatchOrders:
		sells := make([]*model.Order, len(b.items))
		buys := make([]*model.Order, len(b.items))
		constructed := make([][]model.NFT, len(b.items))
		for i, it := range b.items {
			sells[i] = &it.SellOrder
			buys[i] = &it.BuyOrder
			constructed[i] = it.Constructed.NFTs
		}
		gas, data, err := p.exchange.EstimateMatchOrdersGas(ctx, p.signerAddress, sells, buys, constructed)
		return data, gas, err
	default:
		sells := make([]*model.Order, len(b.items))
		buys := make([]*model.Order, len(b.items))
		for i, it := range b.items {
			sells[i] = &it.SellOrder
			buys[i] = &it.BuyOrder
		}
		gas, data, err := p.exchange.EstimateMatchOneToOneOrdersGas(ctx, p.signerAddress, sells, buys)
		return data, gas, err
	}
}

// distributeRoundRobin partitions items into numBundles buckets, one item
// at a time in receipt order (spec §4.5 step 1).
func distributeRoundRobin(items []model.WithPrice, numBundles int) []bucket {
	buckets := make([]bucket, numBundles)
	for i, it := range items {
		idx := i % numBundles
		buckets[idx].items = append(buckets[idx].items, it)
	}
	return buckets
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
