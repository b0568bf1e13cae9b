package chainrpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/model"
)

// ExchangeContract is the downstream exchange-contract interface the
// verifier and packer depend on (spec §6).
type ExchangeContract interface {
	VerifyMatchOrders(ctx context.Context, sellHash, buyHash [32]byte, sell, buy *model.Order) (bool, error)
	EstimateMatchOrdersGas(ctx context.Context, from common.Address, sells, buys []*model.Order, constructed [][]model.NFT) (uint64, []byte, error)
	EstimateMatchOneToOneOrdersGas(ctx context.Context, from common.Address, sells, buys []*model.Order) (uint64, []byte, error)
}

// Exchange is the live ExchangeContract implementation.
type Exchange struct {
	client  *Client
	address common.Address
}

func NewExchange(client *Client, address common.Address) *Exchange {
	return &Exchange{client: client, address: address}
}

func (e *Exchange) VerifyMatchOrders(ctx context.Context, sellHash, buyHash [32]byte, sell, buy *model.Order) (bool, error) {
	data, err := PackVerifyMatchOrders(sellHash, buyHash, sell, buy)
	if err != nil {
		return false, fmt.Errorf("pack verifyMatchOrders: %w", err)
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data})
	if err != nil {
		return false, err
	}
	return UnpackVerifyMatchOrders(out)
}

func (e *Exchange) EstimateMatchOrdersGas(ctx context.Context, from common.Address, sells, buys []*model.Order, constructed [][]model.NFT) (uint64, []byte, error) {
	data, err := PackMatchOrders(sells, buys, constructed)
	if err != nil {
		return 0, nil, fmt.Errorf("pack matchOrders: %w", err)
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &e.address, Data: data})
	return gas, data, err
}

func (e *Exchange) EstimateMatchOneToOneOrdersGas(ctx context.Context, from common.Address, sells, buys []*model.Order) (uint64, []byte, error) {
	data, err := PackMatchOneToOneOrders(sells, buys)
	if err != nil {
		return 0, nil, fmt.Errorf("pack matchOneToOneOrders: %w", err)
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &e.address, Data: data})
	return gas, data, err
}

var _ ExchangeContract = (*Exchange)(nil)

// TokenContract is the downstream ERC-20/ERC-721 read surface the Asset
// Validator (C4) depends on.
type TokenContract interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error)
	OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error)
}

// Tokens is the live TokenContract implementation, sharing the chain's
// rate-limited RPC pool.
type Tokens struct {
	client *Client
}

func NewTokens(client *Client) *Tokens {
	return &Tokens{client: client}
}

func (t *Tokens) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, err
	}
	return UnpackUint256(out, "allowance", erc20ABI)
}

func (t *Tokens) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, err
	}
	return UnpackUint256(out, "balanceOf", erc20ABI)
}

func (t *Tokens) IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error) {
	data, err := PackIsApprovedForAll(owner, operator)
	if err != nil {
		return false, fmt.Errorf("pack isApprovedForAll: %w", err)
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &collection, Data: data})
	if err != nil {
		return false, err
	}
	return UnpackBoolFrom(out, "isApprovedForAll", erc721ABI)
}

func (t *Tokens) OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	data, err := PackOwnerOf(tokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack ownerOf: %w", err)
	}
	out, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &collection, Data: data})
	if err != nil {
		return common.Address{}, err
	}
	return UnpackAddress(out, "ownerOf", erc721ABI)
}

var _ TokenContract = (*Tokens)(nil)
