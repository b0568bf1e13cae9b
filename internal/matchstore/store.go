// Package matchstore is the Match Source (spec §4.1, component C1): a
// durable subscription over the orderMatches collection, translating
// postgres row changes into add/modify/remove events, plus the four
// idempotent write-backs the orchestrator uses to report match outcomes.
package matchstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outblock/match-executor/internal/model"
)

// ChangeType mirrors the three events spec §4.1 requires the source to emit.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one event delivered by the subscription.
type Change struct {
	Type  ChangeType
	ID    string
	Match *model.Match // nil for ChangeRemoved
}

// Source is the interface the orchestrator consumes. Start resolves Ready
// on first non-error snapshot (even if empty, per §4.1) and thereafter
// delivers Changes in the order the underlying subscription sees them.
type Source interface {
	Start(ctx context.Context) (ready <-chan struct{}, changes <-chan Change, err error)
	OnCompleted(ctx context.Context, id string) error
	OnReverted(ctx context.Context, id string) error
	OnInvalidated(ctx context.Context, id string, code model.RejectCode, message string) error
	OnProgress(ctx context.Context, id string, partial model.MatchState) error
}

// Store is a Postgres-backed Source, scoped to a single chain. It uses
// LISTEN/NOTIFY (a trigger on the order_matches table issues `NOTIFY
// order_matches_changed, '<id>'` on every insert/update/delete) to learn
// about changes, and re-reads the affected row to classify Added vs
// Modified vs Removed against its own last-seen set, so a subscriber that
// reconnects mid-stream never drops an event (spec §4.1: "MUST NOT drop
// events silently"). Every chain's Store listens on the same channel (one
// Postgres instance, one trigger), since the table holds matches for
// every chain, but filters every query and re-read by chain_id so one
// chain's orchestrator never observes another chain's matches (spec §5:
// one orchestrator per chain).
type Store struct {
	pool    *pgxpool.Pool
	channel string
	chainID uint64
	seen    map[string]bool
}

// New creates a Store bound to pool and scoped to chainID. channel is the
// Postgres NOTIFY channel name (default "order_matches_changed" if empty).
func New(pool *pgxpool.Pool, channel string, chainID uint64) *Store {
	if channel == "" {
		channel = "order_matches_changed"
	}
	return &Store{pool: pool, channel: channel, chainID: chainID, seen: make(map[string]bool)}
}

// Start opens the durable subscription. It runs the listen loop in a
// background goroutine that retries transport errors indefinitely with
// exponential backoff (spec §4.1); the returned channels are closed when
// ctx is cancelled.
func (s *Store) Start(ctx context.Context) (<-chan struct{}, <-chan Change, error) {
	ready := make(chan struct{})
	changes := make(chan Change, 256)

	go s.run(ctx, ready, changes)

	return ready, changes, nil
}

func (s *Store) run(ctx context.Context, ready chan struct{}, changes chan Change) {
	defer close(changes)

	readyOnce := false
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	op := func() error {
		err := s.listenOnce(ctx, changes, &readyOnce, ready)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			log.Printf("[matchstore] subscription error, retrying: %v", err)
		}
		return err
	}

	if err := backoff.Retry(op, policy); err != nil && ctx.Err() == nil {
		log.Printf("[matchstore] subscription permanently failed: %v", err)
	}
}

// listenOnce performs one snapshot + listen cycle. Returning an error
// causes the caller to retry with backoff; a nil return only happens when
// ctx is done.
func (s *Store) listenOnce(ctx context.Context, changes chan Change, readyOnce *bool, ready chan struct{}) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+s.channel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", s.channel, err)
	}

	if err := s.snapshot(ctx, changes); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	if !*readyOnce {
		*readyOnce = true
		close(ready)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if err := s.handleNotification(ctx, notification.Payload, changes); err != nil {
			log.Printf("[matchstore] failed to process change for %s: %v", notification.Payload, err)
		}
	}
}

// snapshot loads every currently-Active match and emits it as Added, emits
// Removed for any previously seen id that is no longer Active, and reseeds
// s.seen so later notifications can be classified correctly.
func (s *Store) snapshot(ctx context.Context, changes chan Change) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doc FROM order_matches WHERE status = 'Active' AND chain_id = $1 ORDER BY id
	`, s.chainID)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := make(map[string]bool)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		m, err := decodeMatch(id, raw)
		if err != nil {
			log.Printf("[matchstore] skipping malformed match %s: %v", id, err)
			continue
		}
		next[id] = true
		select {
		case changes <- Change{Type: ChangeAdded, ID: id, Match: m}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// Ids tracked before a reconnect that are no longer Active were removed
	// while the subscription was down: report them instead of forgetting them.
	for id := range s.seen {
		if next[id] {
			continue
		}
		select {
		case changes <- Change{Type: ChangeRemoved, ID: id}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.seen = next
	return nil
}

// handleNotification re-reads the changed row and classifies it against
// s.seen: present+active -> Added/Modified, absent or non-active ->
// Removed (status transitions away from Active terminate core
// responsibility for the id, spec §3 invariant).
func (s *Store) handleNotification(ctx context.Context, id string, changes chan Change) error {
	var raw []byte
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status, doc FROM order_matches WHERE id = $1 AND chain_id = $2`, id, s.chainID).Scan(&status, &raw)

	wasSeen := s.seen[id]
	// A row belonging to another chain reads back as pgx.ErrNoRows here
	// (the chain_id filter excludes it), the same as if the row didn't
	// exist at all: this store was never tracking it, so nothing to report.
	stillActive := err == nil && status == string(model.StatusActive)

	switch classifyChange(wasSeen, stillActive) {
	case ChangeRemoved:
		delete(s.seen, id)
		changes <- Change{Type: ChangeRemoved, ID: id}
		return nil
	case "":
		// not seen before and no longer active (or never existed): nothing to report.
		if err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("reload match %s: %w", id, err)
		}
		return nil
	}

	if err != nil {
		return fmt.Errorf("reload match %s: %w", id, err)
	}
	m, err := decodeMatch(id, raw)
	if err != nil {
		return fmt.Errorf("decode match %s: %w", id, err)
	}

	s.seen[id] = true
	if wasSeen {
		changes <- Change{Type: ChangeModified, ID: id, Match: m}
	} else {
		changes <- Change{Type: ChangeAdded, ID: id, Match: m}
	}
	return nil
}

// classifyChange decides which event (if any) a reloaded row implies,
// given whether the id was previously tracked as active and whether it
// is active now. Returns "" when there is nothing to report.
func classifyChange(wasSeen, stillActive bool) ChangeType {
	switch {
	case stillActive && wasSeen:
		return ChangeModified
	case stillActive && !wasSeen:
		return ChangeAdded
	case !stillActive && wasSeen:
		return ChangeRemoved
	default:
		return ""
	}
}

func decodeMatch(id string, raw []byte) (*model.Match, error) {
	var m model.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.ID = id
	return &m, nil
}

// --- idempotent write-backs (spec §4.1) ---

// OnCompleted removes the document: the match is fulfilled.
func (s *Store) OnCompleted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM order_matches WHERE id = $1`, id)
	return err
}

// OnReverted removes the document: matches are re-derived upstream if
// still valid.
func (s *Store) OnReverted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM order_matches WHERE id = $1`, id)
	return err
}

// OnInvalidated merges an Error state onto the document.
func (s *Store) OnInvalidated(ctx context.Context, id string, code model.RejectCode, message string) error {
	state := model.MatchState{Status: model.StatusError, Code: string(code), Message: message}
	patch, err := json.Marshal(map[string]any{"state": state})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE order_matches
		SET status = 'Error', doc = doc || $2::jsonb
		WHERE id = $1
	`, id, patch)
	return err
}

// OnProgress merges a partial state payload, used for intermediate
// telemetry (e.g. "AssetChecking", "Packing") without changing row status.
func (s *Store) OnProgress(ctx context.Context, id string, partial model.MatchState) error {
	patch, err := json.Marshal(map[string]any{"state": partial})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE order_matches
		SET doc = doc || $2::jsonb
		WHERE id = $1
	`, id, patch)
	return err
}

// Retry re-activates a match stuck in Error status so the next
// notification cycle re-delivers it as Added, for the operator retry
// endpoint (internal/api). If the match isn't currently in Error, nothing
// is updated and it returns an error saying so (detected via a zero
// RowsAffected count).
func (s *Store) Retry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE order_matches SET status = 'Active' WHERE id = $1 AND status = 'Error'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s is not in Error status", id)
	}
	return nil
}

var _ Source = (*Store)(nil)

// Registry collects one Store per configured chain so an operator-facing
// caller that only knows a chain id (e.g. the admin retry endpoint) can
// reach the right chain's Store without the caller threading a *Store
// around itself.
type Registry struct {
	stores map[uint64]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[uint64]*Store)}
}

func (r *Registry) Register(chainID uint64, s *Store) {
	r.stores[chainID] = s
}

// Retry re-activates a match on the given chain. It returns an error if
// no Store is registered for chainID, so a typo'd or decommissioned
// chain id fails loudly instead of silently matching the wrong chain.
func (r *Registry) Retry(ctx context.Context, chainID uint64, id string) error {
	s, ok := r.stores[chainID]
	if !ok {
		return fmt.Errorf("no match store registered for chain %d", chainID)
	}
	return s.Retry(ctx, id)
}
