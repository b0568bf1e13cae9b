// Package broadcaster owns the core's side of the external flashbots-style
// transaction broadcaster (out of scope per spec §1): a typed client
// interface plus a thin gRPC transport, the same shape the teacher owns a
// typed gRPC client to an external access node pool.
package broadcaster

import (
	"context"
	"math/big"
)

// TransactionRequest is what the orchestrator hands off after packing
// (spec §6): "to, data, gasLimit, chainId, type=2". GasTipCap/GasFeeCap are
// set when Type is a dynamic-fee (EIP-1559) transaction and nil otherwise.
type TransactionRequest struct {
	MatchIDs  []string
	To        string
	Data      []byte
	GasLimit  uint64
	ChainID   uint64
	Type      uint8
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// Outcome is an asynchronous terminal result keyed by the match id group
// the broadcaster was handed (spec §6: "Completed(id) / Reverted(id) per
// originating match id group").
type Outcome struct {
	MatchID string
	Status  OutcomeStatus
}

type OutcomeStatus int

const (
	OutcomeCompleted OutcomeStatus = iota
	OutcomeReverted
)

// Broadcaster is the interface the orchestrator depends on. Submit is
// fire-and-forget from the caller's perspective; Outcomes delivers async
// results the orchestrator binds back to match ids.
type Broadcaster interface {
	Submit(ctx context.Context, req TransactionRequest) error
	Outcomes() <-chan Outcome
	Close() error
}
