// Package chainrpc wraps a per-chain pool of JSON-RPC endpoints behind a
// round-robin ethclient.Client selector with shared rate limiting, the
// read side of the Match Verifier (C3) and Asset Validator (C4), and the
// calldata/gas-estimation side the Bundle Packer (C5) needs.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Client is a rate-limited, round-robin pool of JSON-RPC connections to
// one chain's endpoints, the chain-local analogue of the teacher's
// flow.Client.
type Client struct {
	chainID uint64
	clients []*ethclient.Client
	limiter *rate.Limiter
	rr      uint32
}

// Dial connects to every endpoint in endpoints, skipping ones that fail
// (tolerant the way the teacher's NewClientFromEnv is), and requires at
// least one live connection.
func Dial(chainID uint64, endpoints []string, rps float64) (*Client, error) {
	var (
		clients []*ethclient.Client
		firstErr error
	)
	for _, ep := range endpoints {
		c, err := ethclient.Dial(ep)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("dial %s: %w", ep, err)
			}
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("chainrpc: no rpc endpoints provided for chain %d", chainID)
	}

	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}

	return &Client{chainID: chainID, clients: clients, limiter: limiter}, nil
}

func (c *Client) ChainID() uint64 { return c.chainID }

func (c *Client) pick() *ethclient.Client {
	if len(c.clients) == 1 {
		return c.clients[0]
	}
	idx := int(atomic.AddUint32(&c.rr, 1)) % len(c.clients)
	return c.clients[idx]
}

// withRetry mirrors the teacher's flow.Client.withRetry: rate-limit, call,
// and retry transient transport errors with exponential backoff.
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	const maxRetries = 5
	backoff := 250 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(c.pick())
		if err == nil {
			return nil
		}
		lastErr = err

		if i == maxRetries-1 {
			break
		}
		wait := backoff * time.Duration(1<<i)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries reached: %w", lastErr)
}

// CallContract performs a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(cl *ethclient.Client) error {
		res, err := cl.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// EstimateGas estimates gas for msg, the authoritative sizing oracle the
// packer depends on.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := c.withRetry(ctx, func(cl *ethclient.Client) error {
		g, err := cl.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// SuggestGasTipCap reports the network's suggested EIP-1559 priority fee.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.withRetry(ctx, func(cl *ethclient.Client) error {
		tip, err := cl.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		out = tip
		return nil
	})
	return out, err
}

// HeaderByNumber fetches the latest header, used to derive the base fee
// for EIP-1559 transaction construction.
func (c *Client) HeaderByNumber(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := c.withRetry(ctx, func(cl *ethclient.Client) error {
		h, err := cl.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
