// Package model defines the wire/domain types for orders, matches, and
// bundle items shared across the match-to-bundle encoder (spec §3).
package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/bigint"
)

// Constraint positions within Order.Constraints, per spec §3.
const (
	ConstraintNumItems = iota
	ConstraintStartPrice
	ConstraintEndPrice
	ConstraintStartTime
	ConstraintEndTime
	ConstraintNonce
	numConstraints
)

// NFT is one collection and the tokens of it referenced by an order (a
// whole-collection wildcard when Tokens is empty).
type NFT struct {
	Collection common.Address `json:"collection"`
	Tokens     []TokenAmount  `json:"tokens"`
}

// TokenAmount is a single ERC-721/1155 token id and the quantity required.
// All numeric fields are canonical decimal strings on the wire (spec §3).
type TokenAmount struct {
	TokenID   *bigint.U256
	NumTokens *bigint.U256
}

type tokenAmountWire struct {
	TokenID   string `json:"tokenId"`
	NumTokens string `json:"numTokens"`
}

func (t TokenAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenAmountWire{
		TokenID:   bigint.ToDecimal(t.TokenID),
		NumTokens: bigint.ToDecimal(t.NumTokens),
	})
}

func (t *TokenAmount) UnmarshalJSON(data []byte) error {
	var w tokenAmountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	tokenID, err := bigint.FromDecimal(w.TokenID)
	if err != nil {
		return fmt.Errorf("tokenId: %w", err)
	}
	numTokens, err := bigint.FromDecimal(w.NumTokens)
	if err != nil {
		return fmt.Errorf("numTokens: %w", err)
	}
	t.TokenID, t.NumTokens = tokenID, numTokens
	return nil
}

// ExecParams is the [complication, currency] pair carried by every order.
type ExecParams struct {
	Complication common.Address `json:"complicationAddress"`
	Currency     common.Address `json:"currencyAddress"`
}

// Order is a signed maker order (spec §3). Constraints are canonical
// decimal strings on the wire and bigint.U256 in memory.
type Order struct {
	IsSellOrder bool           `json:"isSellOrder"`
	Signer      common.Address `json:"signer"`
	Constraints [numConstraints]*bigint.U256
	NFTs        []NFT        `json:"nfts"`
	ExecParams  []ExecParams `json:"execParams"`
	ExtraParams []byte       `json:"extraParams"`
	Signature   []byte       `json:"sig"`
}

type orderWire struct {
	IsSellOrder bool           `json:"isSellOrder"`
	Signer      common.Address `json:"signer"`
	Constraints [numConstraints]string `json:"constraints"`
	NFTs        []NFT          `json:"nfts"`
	ExecParams  []ExecParams   `json:"execParams"`
	ExtraParams []byte         `json:"extraParams"`
	Signature   []byte         `json:"sig"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderWire{
		IsSellOrder: o.IsSellOrder,
		Signer:      o.Signer,
		Constraints: o.ConstraintStrings(),
		NFTs:        o.NFTs,
		ExecParams:  o.ExecParams,
		ExtraParams: o.ExtraParams,
		Signature:   o.Signature,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var w orderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var constraints [numConstraints]*bigint.U256
	for i, s := range w.Constraints {
		v, err := bigint.FromDecimal(s)
		if err != nil {
			return fmt.Errorf("constraints[%d]: %w", i, err)
		}
		constraints[i] = v
	}
	o.IsSellOrder = w.IsSellOrder
	o.Signer = w.Signer
	o.Constraints = constraints
	o.NFTs = w.NFTs
	o.ExecParams = w.ExecParams
	o.ExtraParams = w.ExtraParams
	o.Signature = w.Signature
	return nil
}

func (o *Order) NumItems() *bigint.U256   { return o.Constraints[ConstraintNumItems] }
func (o *Order) StartPrice() *bigint.U256 { return o.Constraints[ConstraintStartPrice] }
func (o *Order) EndPrice() *bigint.U256   { return o.Constraints[ConstraintEndPrice] }
func (o *Order) StartTimeSec() uint64     { return o.Constraints[ConstraintStartTime].Uint64() }
func (o *Order) EndTimeSec() uint64       { return o.Constraints[ConstraintEndTime].Uint64() }
func (o *Order) Nonce() *bigint.U256      { return o.Constraints[ConstraintNonce] }

// ConstraintStrings renders every constraint as a canonical decimal
// string, the form required before an order is encoded (spec §4.2 step 5).
func (o *Order) ConstraintStrings() [numConstraints]string {
	var out [numConstraints]string
	for i, c := range o.Constraints {
		out[i] = bigint.ToDecimal(c)
	}
	return out
}

// Currency returns the order's settlement currency, or the zero address
// if the order carries no execParams.
func (o *Order) Currency() common.Address {
	if len(o.ExecParams) == 0 {
		return common.Address{}
	}
	return o.ExecParams[0].Currency
}

// Complication returns the order's complication/exchange address.
func (o *Order) Complication() common.Address {
	if len(o.ExecParams) == 0 {
		return common.Address{}
	}
	return o.ExecParams[0].Complication
}
