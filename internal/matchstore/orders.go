package matchstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outblock/match-executor/internal/model"
)

// OrderReader is the batched order lookup the builder (C2) needs: read
// the orders referenced by a match in a single round trip (spec §4.2
// step 1).
type OrderReader interface {
	GetOrders(ctx context.Context, ids []string) (map[string]*model.Order, error)
}

// OrderStore is a Postgres-backed OrderReader over a `maker_orders` table,
// scoped to a single chain: orders are chain-specific, and an id from
// chain A's order book must never satisfy a lookup issued by chain B's
// orchestrator (spec §5, one orchestrator per chain).
type OrderStore struct {
	pool    *pgxpool.Pool
	chainID uint64
}

func NewOrderStore(pool *pgxpool.Pool, chainID uint64) *OrderStore {
	return &OrderStore{pool: pool, chainID: chainID}
}

func (s *OrderStore) GetOrders(ctx context.Context, ids []string) (map[string]*model.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, doc FROM maker_orders WHERE chain_id = $1 AND id = ANY($2)`, s.chainID, ids)
	if err != nil {
		return nil, fmt.Errorf("batched order read: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.Order, len(ids))
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var o model.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", id, err)
		}
		out[id] = &o
	}
	return out, rows.Err()
}

var _ OrderReader = (*OrderStore)(nil)
